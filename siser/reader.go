package siser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ErrTruncated is returned when the stream ends in the middle of a record
var ErrTruncated = errors.New("truncated record")

// Reader reads records written by Writer
type Reader struct {
	r *bufio.Reader

	// Data, Name and Timestamp of the current record.
	// They are over-written by the next ReadNextData.
	Data      []byte
	Name      string
	Timestamp time.Time

	// where the data of the current record is in the stream
	DataPos  int64
	DataSize int64

	// if set, data of records for which it returns true is skipped
	// and Data is nil. Use DataPos and DataSize to read it later.
	SkipDataFor func(name string) bool

	// position of the current and the next record in the stream
	CurrRecordPos int64
	NextRecordPos int64

	rec  ReadRecord
	err  error
	done bool
}

// NewReader creates a new reader
func NewReader(r *bufio.Reader) *Reader {
	return &Reader{r: r}
}

// Done returns true if there are no more records or there was an error
func (r *Reader) Done() bool {
	return r.err != nil || r.done
}

// Err returns the error that stopped reading. It's nil at the end
// of the stream. A stream that ends in the middle of a record
// returns an error wrapping ErrTruncated.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = fmt.Errorf("%w at offset %d", ErrTruncated, r.CurrRecordPos)
	}
	r.err = err
	return false
}

func (r *Reader) invalidHeader(hdr []byte) error {
	return fmt.Errorf("invalid record header '%s' at offset %d", hdr, r.CurrRecordPos)
}

// parseHeader parses "--- ${size} ${unix_ms} ${name}" where name is optional
func (r *Reader) parseHeader(hdr []byte) (int64, error) {
	rest, ok := bytes.CutPrefix(hdr, hdrPrefix)
	if !ok {
		return 0, r.invalidHeader(hdr)
	}
	sizeStr, rest, ok := bytes.Cut(rest, []byte{' '})
	if !ok {
		return 0, r.invalidHeader(hdr)
	}
	msStr, name, _ := bytes.Cut(rest, []byte{' '})
	size, err := strconv.ParseInt(string(sizeStr), 10, 64)
	if err != nil || size < 0 {
		return 0, r.invalidHeader(hdr)
	}
	ms, err := strconv.ParseInt(string(msStr), 10, 64)
	if err != nil {
		return 0, r.invalidHeader(hdr)
	}
	r.Timestamp = time.UnixMilli(ms)
	r.Name = string(name)
	return size, nil
}

// readData reads or skips size bytes of data and returns the last one
func (r *Reader) readData(size int64, skip bool) (byte, error) {
	if skip {
		r.Data = nil
		if size == 0 {
			return 0, nil
		}
		if _, err := r.r.Discard(int(size - 1)); err != nil {
			return 0, err
		}
		return r.r.ReadByte()
	}
	if size <= int64(cap(r.Data)) {
		r.Data = r.Data[:size]
		if _, err := io.ReadFull(r.r, r.Data); err != nil {
			return 0, err
		}
	} else {
		// size comes from the file so we don't allocate it upfront
		d, err := io.ReadAll(io.LimitReader(r.r, size))
		if err != nil {
			return 0, err
		}
		if int64(len(d)) < size {
			return 0, io.ErrUnexpectedEOF
		}
		r.Data = d
	}
	if size == 0 {
		return 0, nil
	}
	return r.Data[size-1], nil
}

// ReadNextData reads the next record. Returns false when there are
// no more records or on error, check Err to tell them apart.
func (r *Reader) ReadNextData() bool {
	if r.Done() {
		return false
	}
	r.CurrRecordPos = r.NextRecordPos
	r.Name = ""

	hdr, err := r.r.ReadBytes('\n')
	if err == io.EOF && len(hdr) == 0 {
		r.done = true
		return false
	}
	if err != nil {
		return r.fail(err)
	}
	size, err := r.parseHeader(hdr[:len(hdr)-1])
	if err != nil {
		return r.fail(err)
	}
	r.DataPos = r.CurrRecordPos + int64(len(hdr))
	r.DataSize = size
	skip := r.SkipDataFor != nil && r.SkipDataFor(r.Name)
	last, err := r.readData(size, skip)
	if err != nil {
		return r.fail(err)
	}
	next := r.DataPos + size
	// data that doesn't end with a newline is followed by one
	if size > 0 && last != '\n' {
		if _, err = r.r.Discard(1); err != nil {
			return r.fail(err)
		}
		next++
	}
	r.NextRecordPos = next
	return true
}

// UnmarshalData decodes Data of the current record as key / value record.
// The result is valid until the next call.
func (r *Reader) UnmarshalData() (*ReadRecord, error) {
	rec, err := UnmarshalRecord(r.Data, &r.rec)
	if err != nil {
		return nil, err
	}
	rec.Name = r.Name
	rec.Timestamp = r.Timestamp
	return rec, nil
}
