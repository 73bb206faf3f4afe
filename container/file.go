package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/kjk/arraystore/atomicfile"
	"github.com/kjk/arraystore/codec"
	"github.com/kjk/arraystore/siser"
)

const (
	formatName    = "arraystore-container"
	formatVersion = 1

	recContainer = "container"
	recDataset   = "dataset"
	recExtent    = "extent"
	chunkPrefix  = "chunk:"
)

var (
	ErrNoDataset      = errors.New("dataset doesn't exist")
	ErrDatasetExists  = errors.New("dataset already exists")
	ErrCorrupt        = errors.New("corrupt container")
	ErrShrink         = errors.New("can't shrink dataset")
	ErrDataSize       = errors.New("data size is not a multiple of record size")
	ErrOutOfRange     = errors.New("records out of range")
	ErrReadOnly       = errors.New("container is opened read-only")
	ErrClosed         = errors.New("container is closed")
	ErrInvalidDataset = errors.New("invalid dataset")
)

// DatasetSpec describes a dataset to create
type DatasetSpec struct {
	Name  string
	DType DType
	// shape of a single record i.e. without the growing axis
	// can be empty for scalar records
	RecordShape []int
	// number of records in a chunk, must be > 0
	ChunkLen int
	// codec id as accepted by codec.Lookup, empty means codec.Default
	Codec string
}

// MaxChunkBytes is the largest uncompressed chunk a dataset can have.
// Reading or writing a single record loads its whole chunk in memory.
const MaxChunkBytes = 1 << 30

// Validate checks that the dataset can be created
func (s *DatasetSpec) Validate() error {
	_, err := s.validate()
	return err
}

func (s *DatasetSpec) validate() (codec.Codec, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("%w: name is empty", ErrInvalidDataset)
	}
	if strings.ContainsAny(s.Name, " \t\r\n") {
		return nil, fmt.Errorf("%w: name '%s' can't contain whitespace", ErrInvalidDataset, s.Name)
	}
	if !s.DType.Valid() {
		return nil, fmt.Errorf("%w: '%s' has invalid dtype '%s'", ErrInvalidDataset, s.Name, s.DType)
	}
	if s.ChunkLen <= 0 {
		return nil, fmt.Errorf("%w: '%s' has invalid chunk length %d", ErrInvalidDataset, s.Name, s.ChunkLen)
	}
	// dims are multiplied in int64 and each one is capped so the
	// product can't overflow before we compare it
	chunkBytes := int64(s.DType.Size())
	for _, dim := range append([]int{s.ChunkLen}, s.RecordShape...) {
		if dim <= 0 {
			return nil, fmt.Errorf("%w: '%s' has invalid record shape %v", ErrInvalidDataset, s.Name, s.RecordShape)
		}
		if int64(dim) > MaxChunkBytes {
			chunkBytes = MaxChunkBytes + 1
			continue
		}
		chunkBytes = min(chunkBytes*int64(dim), MaxChunkBytes+1)
	}
	if chunkBytes > MaxChunkBytes {
		return nil, fmt.Errorf("%w: '%s' has chunks of %d records with shape %v, bigger than %d bytes", ErrInvalidDataset, s.Name, s.ChunkLen, s.RecordShape, MaxChunkBytes)
	}
	c, err := codec.Lookup(s.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", ErrInvalidDataset, s.Name, err)
	}
	return c, nil
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, dim := range shape {
		parts[i] = strconv.Itoa(dim)
	}
	return strings.Join(parts, ",")
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, part := range parts {
		dim, err := strconv.Atoi(part)
		if err != nil || dim <= 0 {
			return nil, fmt.Errorf("invalid shape '%s'", s)
		}
		shape[i] = dim
	}
	return shape, nil
}

func writeHeaderRecord(w *siser.Writer) error {
	var r siser.Record
	r.Name = recContainer
	if err := r.Write("format", formatName, "version", formatVersion); err != nil {
		return err
	}
	_, err := w.WriteRecord(&r)
	return err
}

func writeDatasetRecord(w *siser.Writer, spec *DatasetSpec, c codec.Codec) error {
	var r siser.Record
	r.Name = recDataset
	err := r.Write(
		"name", spec.Name,
		"dtype", string(spec.DType),
		"shape", formatShape(spec.RecordShape),
		"chunk", spec.ChunkLen,
		"codec", c.Name(),
	)
	if err != nil {
		return err
	}
	_, err = w.WriteRecord(&r)
	return err
}

func writeExtentRecord(w *siser.Writer, dsName string, length int) error {
	var r siser.Record
	r.Name = recExtent
	if err := r.Write("dataset", dsName, "length", length); err != nil {
		return err
	}
	_, err := w.WriteRecord(&r)
	return err
}

func parseDatasetRecord(rec *siser.ReadRecord) (*DatasetSpec, error) {
	var spec DatasetSpec
	var err error
	if spec.Name, err = rec.GetRequired("name"); err != nil {
		return nil, err
	}
	dtype, err := rec.GetRequired("dtype")
	if err != nil {
		return nil, err
	}
	if spec.DType, err = ParseDType(dtype); err != nil {
		return nil, err
	}
	shape, err := rec.GetRequired("shape")
	if err != nil {
		return nil, err
	}
	if spec.RecordShape, err = parseShape(shape); err != nil {
		return nil, err
	}
	if spec.ChunkLen, err = rec.GetInt("chunk"); err != nil {
		return nil, err
	}
	if spec.Codec, err = rec.GetRequired("codec"); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Create creates a new container file with given datasets, all of length 0.
// The file is written atomically: it either has all the datasets or doesn't exist.
// Returns an error matching os.ErrExist if the file already exists.
func Create(path string, specs ...DatasetSpec) error {
	var codecs []codec.Codec
	var names []string
	for i := range specs {
		c, err := specs[i].validate()
		if err != nil {
			return err
		}
		if slices.Contains(names, specs[i].Name) {
			return fmt.Errorf("%w: '%s'", ErrDatasetExists, specs[i].Name)
		}
		names = append(names, specs[i].Name)
		codecs = append(codecs, c)
	}

	f, err := atomicfile.NewExclusive(path)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()

	w := siser.NewWriter(f)
	if err = writeHeaderRecord(w); err != nil {
		return err
	}
	for i := range specs {
		if err = writeDatasetRecord(w, &specs[i], codecs[i]); err != nil {
			return err
		}
	}
	return f.Close()
}

// File is an opened container
type File struct {
	path     string
	f        *os.File
	readOnly bool
	version  int
	// size of the file i.e. where the next record goes
	size int64
	// size of the incomplete record at the end, if any
	tornBytes int64

	w        *siser.Writer
	datasets []*Dataset

	// first write error. after a failed write the file might
	// have a partial record at the end so we refuse further writes
	werr   error
	closed bool
}

// Open opens a container for reading
func Open(path string) (*File, error) {
	return openFile(path, true)
}

// OpenAppend opens a container for reading and appending
func OpenAppend(path string) (*File, error) {
	return openFile(path, false)
}

func openFile(path string, readOnly bool) (*File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	cf := &File{
		path:     path,
		f:        f,
		readOnly: readOnly,
	}
	if err = cf.readIndex(); err != nil {
		f.Close()
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	cf.tornBytes = st.Size() - cf.size
	if !readOnly {
		if cf.tornBytes > 0 {
			if err = f.Truncate(cf.size); err != nil {
				f.Close()
				return nil, err
			}
		}
		if _, err = f.Seek(cf.size, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		cf.w = siser.NewAppendWriter(f, cf.size)
	}
	return cf, nil
}

func (f *File) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorrupt, f.path, fmt.Sprintf(format, args...))
}

func parseChunkName(name string) (int, string, bool) {
	rest, ok := strings.CutPrefix(name, chunkPrefix)
	if !ok {
		return 0, "", false
	}
	idxStr, dsName, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", false
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return 0, "", false
	}
	return idx, dsName, true
}

func chunkName(idx int, dsName string) string {
	return chunkPrefix + strconv.Itoa(idx) + ":" + dsName
}

// readIndex scans all records in the file. Chunk data is skipped,
// we only remember where it is.
func (f *File) readIndex() error {
	r := siser.NewReader(bufio.NewReader(f.f))
	r.SkipDataFor = func(name string) bool {
		return strings.HasPrefix(name, chunkPrefix)
	}
	nRecords := 0
	for r.ReadNextData() {
		nRecords++
		if nRecords == 1 {
			if err := f.parseHeader(r); err != nil {
				return err
			}
			continue
		}
		switch {
		case r.Name == recDataset:
			rec, err := r.UnmarshalData()
			if err != nil {
				return f.corrupt("dataset record at %d: %s", r.CurrRecordPos, err)
			}
			spec, err := parseDatasetRecord(rec)
			if err != nil {
				return f.corrupt("dataset record at %d: %s", r.CurrRecordPos, err)
			}
			if _, err = f.addDataset(spec); err != nil {
				return f.corrupt("dataset record at %d: %s", r.CurrRecordPos, err)
			}
		case r.Name == recExtent:
			rec, err := r.UnmarshalData()
			if err != nil {
				return f.corrupt("extent record at %d: %s", r.CurrRecordPos, err)
			}
			if err = f.applyExtent(rec); err != nil {
				return f.corrupt("extent record at %d: %s", r.CurrRecordPos, err)
			}
		case strings.HasPrefix(r.Name, chunkPrefix):
			idx, dsName, ok := parseChunkName(r.Name)
			if !ok {
				return f.corrupt("invalid chunk record '%s' at %d", r.Name, r.CurrRecordPos)
			}
			ds := f.findDataset(dsName)
			if ds == nil {
				return f.corrupt("chunk record at %d for unknown dataset '%s'", r.CurrRecordPos, dsName)
			}
			ds.chunks[idx] = chunkLoc{pos: r.DataPos, size: r.DataSize}
		default:
			// records we don't know about are ignored
		}
	}
	err := r.Err()
	if err != nil && (nRecords == 0 || !errors.Is(err, siser.ErrTruncated)) {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, f.path, err)
	}
	if nRecords == 0 {
		return f.corrupt("empty file")
	}
	// a crash during append can leave an incomplete record at the end.
	// it's not part of the container and is over-written by the next append
	f.size = r.NextRecordPos
	if err != nil {
		f.size = r.CurrRecordPos
	}
	return nil
}

func (f *File) parseHeader(r *siser.Reader) error {
	if r.Name != recContainer {
		return f.corrupt("not a container file")
	}
	rec, err := r.UnmarshalData()
	if err != nil {
		return f.corrupt("header: %s", err)
	}
	if format, _ := rec.Get("format"); format != formatName {
		return f.corrupt("unknown format '%s'", format)
	}
	if f.version, err = rec.GetInt("version"); err != nil {
		return f.corrupt("header: %s", err)
	}
	if f.version > formatVersion {
		return fmt.Errorf("%s: unsupported container version %d", f.path, f.version)
	}
	return nil
}

func (f *File) applyExtent(rec *siser.ReadRecord) error {
	dsName, err := rec.GetRequired("dataset")
	if err != nil {
		return err
	}
	length, err := rec.GetInt("length")
	if err != nil {
		return err
	}
	ds := f.findDataset(dsName)
	if ds == nil {
		return fmt.Errorf("unknown dataset '%s'", dsName)
	}
	if length < ds.length {
		return fmt.Errorf("dataset '%s' shrinks from %d to %d", dsName, ds.length, length)
	}
	if length > ds.maxLen() {
		return fmt.Errorf("dataset '%s' can't have %d records", dsName, length)
	}
	ds.length = length
	return nil
}

func (f *File) findDataset(name string) *Dataset {
	for _, ds := range f.datasets {
		if ds.spec.Name == name {
			return ds
		}
	}
	return nil
}

func (f *File) addDataset(spec *DatasetSpec) (*Dataset, error) {
	c, err := spec.validate()
	if err != nil {
		return nil, err
	}
	if f.findDataset(spec.Name) != nil {
		return nil, fmt.Errorf("%w: '%s'", ErrDatasetExists, spec.Name)
	}
	ds := &Dataset{
		file:   f,
		spec:   *spec,
		codec:  c,
		chunks: map[int]chunkLoc{},
	}
	ds.spec.RecordShape = slices.Clone(spec.RecordShape)
	ds.spec.Codec = c.Name()
	f.datasets = append(f.datasets, ds)
	return ds, nil
}

func (f *File) checkWritable() error {
	if f.closed {
		return ErrClosed
	}
	if f.readOnly {
		return ErrReadOnly
	}
	return f.werr
}

// afterWrite remembers the first write error and keeps size current
func (f *File) afterWrite(err error) error {
	f.size = f.w.Pos
	if err != nil && f.werr == nil {
		f.werr = fmt.Errorf("%s: write failed: %w", f.path, err)
	}
	return err
}

// Path returns the path of the file
func (f *File) Path() string {
	return f.path
}

// Size returns size of the file in bytes, not counting TornBytes
func (f *File) Size() int64 {
	return f.size
}

// TornBytes returns size of the incomplete record found at the end
// of the file when it was opened. Opening for append removes it.
func (f *File) TornBytes() int64 {
	return f.tornBytes
}

// Datasets returns names of datasets in the order they were created
func (f *File) Datasets() []string {
	var res []string
	for _, ds := range f.datasets {
		res = append(res, ds.spec.Name)
	}
	return res
}

// Dataset returns a dataset with a given name.
// Returns an error matching ErrNoDataset if it doesn't exist.
func (f *File) Dataset(name string) (*Dataset, error) {
	if f.closed {
		return nil, ErrClosed
	}
	ds := f.findDataset(name)
	if ds == nil {
		return nil, fmt.Errorf("%w: '%s' in %s", ErrNoDataset, name, f.path)
	}
	return ds, nil
}

// CreateDataset adds a new, empty dataset to the file
func (f *File) CreateDataset(spec DatasetSpec) (*Dataset, error) {
	if err := f.checkWritable(); err != nil {
		return nil, err
	}
	ds, err := f.addDataset(&spec)
	if err != nil {
		return nil, err
	}
	err = writeDatasetRecord(f.w, &ds.spec, ds.codec)
	if err = f.afterWrite(err); err != nil {
		f.datasets = f.datasets[:len(f.datasets)-1]
		return nil, err
	}
	return ds, nil
}

// Flush commits written data to stable storage
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	if f.readOnly {
		return nil
	}
	return f.f.Sync()
}

// Close closes the file. Calling Close more than once is a no-op.
// Close doesn't Flush.
func (f *File) Close() error {
	if f == nil || f.closed {
		return nil
	}
	f.closed = true
	return f.f.Close()
}
