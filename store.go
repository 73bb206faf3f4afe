package arraystore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/kjk/arraystore/codec"
	"github.com/kjk/arraystore/container"
	"github.com/kjk/arraystore/log"
)

// Store appends records of a fixed shape to a dataset in a file.
// The dataset grows along its first axis, one Append at a time.
// Each Append opens the file, writes, flushes and closes it.
// Store is not safe for concurrent use.
type Store[T Number] struct {
	// path of the file, created if doesn't exist
	Path string
	// name of the dataset in the file
	Dataset string
	// shape of a single record, empty for scalar records
	Shape []int
	// codec id like "gzip" or "zstd:4", default is "gzip"
	Compression string
	// number of records in a chunk, default is 1
	ChunkLen int
	// if true, Append only checks the number of dimensions of values
	// and a record of the wrong size is rejected by the backend
	// after the dataset has been resized
	RankOnlyShapeCheck bool
	// storage backend, default is ContainerBackend
	Backend Backend

	path        string
	recordShape []int
	dtype       container.DType
	writeCursor int
	opened      bool
}

// Float32Store is a Store of float32 values
type Float32Store = Store[float32]

func dtypeOf[T Number]() container.DType {
	var v T
	switch any(v).(type) {
	case float32:
		return container.Float32
	case float64:
		return container.Float64
	case int8:
		return container.Int8
	case int16:
		return container.Int16
	case int32:
		return container.Int32
	case int64:
		return container.Int64
	case uint8:
		return container.Uint8
	case uint16:
		return container.Uint16
	case uint32:
		return container.Uint32
	case uint64:
		return container.Uint64
	}
	panic(fmt.Sprintf("unsupported type %T", v))
}

func (s *Store[T]) datasetSpec() container.DatasetSpec {
	return container.DatasetSpec{
		Name:        s.Dataset,
		DType:       dtypeOf[T](),
		RecordShape: s.Shape,
		ChunkLen:    s.ChunkLen,
		Codec:       s.Compression,
	}
}

func (s *Store[T]) validate() error {
	if s.Path == "" {
		return fmt.Errorf("path is not set")
	}
	if s.Dataset == "" {
		return fmt.Errorf("dataset name is not set")
	}
	spec := s.datasetSpec()
	return spec.Validate()
}

// Open prepares the store. If the file doesn't exist, it creates it
// with an empty dataset. An existing file is not checked here, that
// happens in Append.
func Open[T Number](s *Store[T]) error {
	if s.Compression == "" {
		s.Compression = codec.Default
	}
	if s.ChunkLen == 0 {
		s.ChunkLen = 1
	}
	if err := s.validate(); err != nil {
		return err
	}
	if s.Backend == nil {
		s.Backend = ContainerBackend{}
	}

	var err error
	s.path, err = filepath.Abs(s.Path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for '%s': %w", s.Path, err)
	}
	if err = os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	s.recordShape = slices.Clone(s.Shape)
	s.dtype = dtypeOf[T]()
	s.writeCursor = 0

	_, err = os.Stat(s.path)
	if err == nil {
		s.opened = true
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	spec := s.datasetSpec()
	spec.RecordShape = s.recordShape
	timeStart := time.Now()
	err = s.Backend.Create(s.path, spec)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			return &BackendIOError{Op: "create", Path: s.path, Err: err}
		}
		// created by someone else after we checked
		s.opened = true
		return nil
	}
	log.Verbosef("arraystore: created '%s' with dataset '%s', record shape %v, dtype %s\n", s.path, s.Dataset, s.recordShape, s.dtype)
	log.EventWithDuration("arraystore.create", time.Since(timeStart), "path", s.path, "dataset", s.Dataset, "dtype", string(s.dtype), "codec", s.Compression)
	s.opened = true
	return nil
}

// WriteCursor returns number of records appended with this Store
func (s *Store[T]) WriteCursor() int {
	return s.writeCursor
}

// RecordShape returns shape of a single record
func (s *Store[T]) RecordShape() []int {
	return slices.Clone(s.recordShape)
}

// numRecords returns how many records values has
func (s *Store[T]) numRecords(values *Array[T]) (int, error) {
	if values == nil {
		return 0, fmt.Errorf("values is nil")
	}
	mismatch := func(reason string) error {
		return &ShapeMismatchError{
			RecordShape: slices.Clone(s.recordShape),
			Got:         slices.Clone(values.Shape),
			Reason:      reason,
		}
	}
	size, ok := shapeSize(values.Shape)
	if !ok {
		return 0, mismatch("negative dimension or too many elements")
	}
	if len(values.Data) != size {
		return 0, mismatch(fmt.Sprintf("array has %d elements", len(values.Data)))
	}

	rank := len(s.recordShape)
	var n int
	var trailing []int
	switch values.NDim() {
	case rank:
		n, trailing = 1, values.Shape
	case rank + 1:
		n, trailing = values.Shape[0], values.Shape[1:]
	default:
		return 0, mismatch(fmt.Sprintf("expected %d or %d dimensions", rank, rank+1))
	}
	if !s.RankOnlyShapeCheck && !slices.Equal(trailing, s.recordShape) {
		return 0, mismatch("record dimensions differ")
	}
	// with RankOnlyShapeCheck a batch of empty records can claim any count
	recordBytes := s.recordBytes()
	if n > 0 && n > math.MaxInt/recordBytes {
		return 0, mismatch(fmt.Sprintf("%d records is too many", n))
	}
	return n, nil
}

func (s *Store[T]) recordBytes() int {
	// record shape is bounded by container.DatasetSpec.Validate
	n, _ := shapeSize(s.recordShape)
	return n * s.dtype.Size()
}

// Append appends values to the dataset. values is either a single record
// (same number of dimensions as the record shape) or a batch of records
// (one more dimension, the first one being the number of records).
func (s *Store[T]) Append(values *Array[T]) error {
	if !s.opened {
		return fmt.Errorf("store is not opened")
	}
	n, err := s.numRecords(values)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	data, err := binary.Append(nil, binary.LittleEndian, values.Data)
	if err != nil {
		return err
	}

	ioErr := func(op string, err error) error {
		return &BackendIOError{Op: op, Path: s.path, Err: err}
	}
	f, err := s.Backend.OpenAppend(s.path)
	if err != nil {
		return ioErr("open", err)
	}
	length, err := s.appendRecords(f, n, data)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return ioErr("close", err)
	}
	s.writeCursor += n
	log.Event("arraystore.append", "path", s.path, "dataset", s.Dataset, "records", n, "length", length+n)
	return nil
}

// appendRecords resizes the dataset by n records and writes data at the end.
// Returns length of the dataset before the append.
func (s *Store[T]) appendRecords(f BackendFile, n int, data []byte) (int, error) {
	ioErr := func(op string, err error) error {
		return &BackendIOError{Op: op, Path: s.path, Err: err}
	}
	ds, err := f.Dataset(s.Dataset)
	if err != nil {
		return 0, ioErr("dataset", err)
	}
	if !slices.Equal(ds.RecordShape(), s.recordShape) || ds.DType() != s.dtype {
		err = fmt.Errorf("%w: '%s' has record shape %v and dtype %s, store has %v and %s", ErrIncompatibleDataset, s.Dataset, ds.RecordShape(), ds.DType(), s.recordShape, s.dtype)
		return 0, ioErr("dataset", err)
	}

	length := ds.Len()
	if n > math.MaxInt-length {
		err = fmt.Errorf("%w: %d + %d records overflows", container.ErrOutOfRange, length, n)
		return 0, ioErr("resize", err)
	}
	if err = ds.Resize(length + n); err != nil {
		return 0, ioErr("resize", err)
	}
	recordBytes := s.recordBytes()
	if len(data) != n*recordBytes {
		err = fmt.Errorf("%w: %d records need %d bytes, got %d", container.ErrDataSize, n, n*recordBytes, len(data))
		return 0, ioErr("write", err)
	}
	if err = ds.WriteRecords(length, data); err != nil {
		return 0, ioErr("write", err)
	}
	if err = f.Flush(); err != nil {
		return 0, ioErr("flush", err)
	}
	return length, nil
}
