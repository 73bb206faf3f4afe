package container

import (
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/kjk/arraystore/codec"
	"golang.org/x/sync/errgroup"
)

// where the latest version of a chunk is stored in the file
type chunkLoc struct {
	pos  int64
	size int64
}

// Dataset is a resizable array of records inside a File
type Dataset struct {
	file   *File
	spec   DatasetSpec
	codec  codec.Codec
	length int
	chunks map[int]chunkLoc
}

func (d *Dataset) Name() string {
	return d.spec.Name
}

// Len returns number of records i.e. length of the growing axis
func (d *Dataset) Len() int {
	return d.length
}

// RecordShape returns shape of a single record
func (d *Dataset) RecordShape() []int {
	return slices.Clone(d.spec.RecordShape)
}

// Shape returns full shape of the dataset i.e. (Len(),) + RecordShape()
func (d *Dataset) Shape() []int {
	return append([]int{d.length}, d.spec.RecordShape...)
}

func (d *Dataset) DType() DType {
	return d.spec.DType
}

func (d *Dataset) ChunkLen() int {
	return d.spec.ChunkLen
}

// Codec returns canonical name of the codec used to compress chunks
func (d *Dataset) Codec() string {
	return d.codec.Name()
}

// RecordBytes returns size of a single record in bytes
func (d *Dataset) RecordBytes() int {
	n := d.spec.DType.Size()
	for _, dim := range d.spec.RecordShape {
		n *= dim
	}
	return n
}

func (d *Dataset) chunkBytes() int {
	return d.spec.ChunkLen * d.RecordBytes()
}

// maxLen is the largest length whose size in bytes fits in int
func (d *Dataset) maxLen() int {
	return math.MaxInt / d.RecordBytes()
}

// Resize changes the length of the growing axis to n.
// Datasets can only grow.
func (d *Dataset) Resize(n int) error {
	if err := d.file.checkWritable(); err != nil {
		return err
	}
	if n < d.length {
		return fmt.Errorf("%w: '%s' from %d to %d", ErrShrink, d.spec.Name, d.length, n)
	}
	if n == d.length {
		return nil
	}
	if n > d.maxLen() {
		return fmt.Errorf("%w: '%s' can't have %d records", ErrOutOfRange, d.spec.Name, n)
	}
	err := writeExtentRecord(d.file.w, d.spec.Name, n)
	if err = d.file.afterWrite(err); err != nil {
		return err
	}
	d.length = n
	return nil
}

// readChunk returns uncompressed chunk idx. Chunks that were never
// written are all zeros.
func (d *Dataset) readChunk(idx int) ([]byte, error) {
	size := d.chunkBytes()
	loc, ok := d.chunks[idx]
	if !ok {
		return make([]byte, size), nil
	}
	compressed := make([]byte, loc.size)
	if _, err := d.file.f.ReadAt(compressed, loc.pos); err != nil {
		return nil, fmt.Errorf("%s: reading chunk %d of '%s': %w", d.file.path, idx, d.spec.Name, err)
	}
	raw, err := d.codec.Decompress(compressed, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: chunk %d of '%s': %w", ErrCorrupt, d.file.path, idx, d.spec.Name, err)
	}
	return raw, nil
}

type pendingChunk struct {
	idx        int
	raw        []byte
	compressed []byte
}

// WriteRecords writes records starting at record index start.
// data must have a whole number of records and all of them must
// be within [0, Len()).
// Chunks are compressed in parallel and written in order.
func (d *Dataset) WriteRecords(start int, data []byte) error {
	if err := d.file.checkWritable(); err != nil {
		return err
	}
	rb := d.RecordBytes()
	if len(data)%rb != 0 {
		return fmt.Errorf("%w: '%s': %d bytes, record is %d bytes", ErrDataSize, d.spec.Name, len(data), rb)
	}
	n := len(data) / rb
	if start < 0 || n > d.length-start {
		return fmt.Errorf("%w: '%s': [%d, %d) with length %d", ErrOutOfRange, d.spec.Name, start, start+n, d.length)
	}
	if n == 0 {
		return nil
	}

	cl := d.spec.ChunkLen
	end := start + n
	var chunks []*pendingChunk
	for idx := start / cl; idx <= (end-1)/cl; idx++ {
		chunkStart := idx * cl
		lo := max(start, chunkStart)
		hi := min(end, chunkStart+cl)
		src := data[(lo-start)*rb : (hi-start)*rb]
		c := &pendingChunk{idx: idx}
		if lo == chunkStart && hi == chunkStart+cl {
			c.raw = src
		} else {
			// partially covered chunk: merge with what's already there
			raw, err := d.readChunk(idx)
			if err != nil {
				return err
			}
			copy(raw[(lo-chunkStart)*rb:], src)
			c.raw = raw
		}
		chunks = append(chunks, c)
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, c := range chunks {
		g.Go(func() error {
			var err error
			c.compressed, err = d.codec.Compress(c.raw)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s: compressing '%s': %w", d.file.path, d.spec.Name, err)
	}

	for _, c := range chunks {
		pos, err := d.file.w.Write(c.compressed, time.Now(), chunkName(c.idx, d.spec.Name))
		if err = d.file.afterWrite(err); err != nil {
			return err
		}
		d.chunks[c.idx] = chunkLoc{pos: pos, size: int64(len(c.compressed))}
	}
	return nil
}

// ReadRecords returns count records starting at record index start
func (d *Dataset) ReadRecords(start, count int) ([]byte, error) {
	if d.file.closed {
		return nil, ErrClosed
	}
	if start < 0 || count < 0 || count > d.length-start {
		return nil, fmt.Errorf("%w: '%s': [%d, %d) with length %d", ErrOutOfRange, d.spec.Name, start, start+count, d.length)
	}
	rb := d.RecordBytes()
	res := make([]byte, 0, count*rb)
	if count == 0 {
		return res, nil
	}
	cl := d.spec.ChunkLen
	end := start + count
	for idx := start / cl; idx <= (end-1)/cl; idx++ {
		raw, err := d.readChunk(idx)
		if err != nil {
			return nil, err
		}
		chunkStart := idx * cl
		lo := max(start, chunkStart)
		hi := min(end, chunkStart+cl)
		res = append(res, raw[(lo-chunkStart)*rb:(hi-chunkStart)*rb]...)
	}
	return res, nil
}
