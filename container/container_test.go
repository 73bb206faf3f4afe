package container

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert"
)

func testSpec(name string) DatasetSpec {
	return DatasetSpec{
		Name:        name,
		DType:       Uint8,
		RecordShape: []int{2, 3},
		ChunkLen:    1,
		Codec:       "gzip",
	}
}

// records of 6 bytes, record i is filled with byte(base + i)
func genRecords(base, n int) []byte {
	var res []byte
	for i := 0; i < n; i++ {
		res = append(res, bytes.Repeat([]byte{byte(base + i)}, 6)...)
	}
	return res
}

func createFile(t *testing.T, specs ...DatasetSpec) string {
	path := filepath.Join(t.TempDir(), "test.h5c")
	err := Create(path, specs...)
	assert.NoError(t, err)
	return path
}

func appendRecords(t *testing.T, ds *Dataset, data []byte) {
	n := ds.Len()
	err := ds.Resize(n + len(data)/ds.RecordBytes())
	assert.NoError(t, err)
	err = ds.WriteRecords(n, data)
	assert.NoError(t, err)
}

func TestCreateAndOpen(t *testing.T) {
	spec := testSpec("X")
	spec.Codec = "zstd:4"
	path := createFile(t, spec, testSpec("Y"))

	f, err := Open(path)
	assert.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"X", "Y"}, f.Datasets())
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
	assert.Equal(t, []int{2, 3}, ds.RecordShape())
	assert.Equal(t, []int{0, 2, 3}, ds.Shape())
	assert.Equal(t, Uint8, ds.DType())
	assert.Equal(t, "zstd:4", ds.Codec())
	assert.Equal(t, 6, ds.RecordBytes())

	_, err = f.Dataset("Z")
	assert.True(t, errors.Is(err, ErrNoDataset))
}

func TestCreateErrors(t *testing.T) {
	path := createFile(t, testSpec("X"))
	err := Create(path, testSpec("X"))
	assert.True(t, errors.Is(err, os.ErrExist), "got %v", err)

	dir := t.TempDir()
	err = Create(filepath.Join(dir, "a.h5c"), testSpec("X"), testSpec("X"))
	assert.True(t, errors.Is(err, ErrDatasetExists))

	bad := []DatasetSpec{
		{Name: "", DType: Uint8, ChunkLen: 1},
		{Name: "a b", DType: Uint8, ChunkLen: 1},
		{Name: "X", DType: "f3", ChunkLen: 1},
		{Name: "X", DType: Uint8, ChunkLen: 0},
		{Name: "X", DType: Uint8, ChunkLen: 1, RecordShape: []int{2, 0}},
		{Name: "X", DType: Uint8, ChunkLen: 1, Codec: "rar"},
		{Name: "X", DType: Float64, ChunkLen: 1 << 40},
		{Name: "X", DType: Uint8, ChunkLen: 1, RecordShape: []int{1 << 31, 1 << 31, 1 << 31}},
		{Name: "X", DType: Uint16, ChunkLen: 1024, RecordShape: []int{1024, 1024}},
	}
	for i, spec := range bad {
		err = Create(filepath.Join(dir, "b.h5c"), spec)
		assert.True(t, errors.Is(err, ErrInvalidDataset), "spec %d: %v", i, err)
	}
	_, err = os.Stat(filepath.Join(dir, "b.h5c"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAndReadBack(t *testing.T) {
	for _, codecID := range []string{"gzip", "zstd", "s2", "brotli", "lz4", "none"} {
		spec := testSpec("X")
		spec.Codec = codecID
		path := createFile(t, spec)

		f, err := OpenAppend(path)
		assert.NoError(t, err)
		ds, err := f.Dataset("X")
		assert.NoError(t, err)
		appendRecords(t, ds, genRecords(0, 3))
		appendRecords(t, ds, genRecords(3, 2))
		assert.NoError(t, f.Flush())
		assert.NoError(t, f.Close())

		f, err = Open(path)
		assert.NoError(t, err)
		ds, err = f.Dataset("X")
		assert.NoError(t, err)
		assert.Equal(t, 5, ds.Len(), "codec %s", codecID)
		d, err := ds.ReadRecords(0, 5)
		assert.NoError(t, err)
		assert.Equal(t, genRecords(0, 5), d, "codec %s", codecID)
		d, err = ds.ReadRecords(2, 2)
		assert.NoError(t, err)
		assert.Equal(t, genRecords(2, 2), d)
		assert.NoError(t, f.Close())
	}
}

func TestChunkMerge(t *testing.T) {
	spec := testSpec("X")
	spec.ChunkLen = 4
	path := createFile(t, spec)

	f, err := OpenAppend(path)
	assert.NoError(t, err)
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	// 3 appends that straddle chunk boundaries
	appendRecords(t, ds, genRecords(0, 3))
	appendRecords(t, ds, genRecords(3, 3))
	appendRecords(t, ds, genRecords(6, 5))
	assert.Equal(t, 3, ds.Info().ChunksStored)
	assert.NoError(t, f.Close())

	f, err = Open(path)
	assert.NoError(t, err)
	defer f.Close()
	ds, err = f.Dataset("X")
	assert.NoError(t, err)
	assert.Equal(t, 11, ds.Len())
	d, err := ds.ReadRecords(0, 11)
	assert.NoError(t, err)
	assert.Equal(t, genRecords(0, 11), d)
}

func TestUnwrittenRecordsAreZero(t *testing.T) {
	spec := testSpec("X")
	spec.ChunkLen = 2
	path := createFile(t, spec)
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	defer f.Close()
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	assert.NoError(t, ds.Resize(5))
	assert.NoError(t, ds.WriteRecords(3, genRecords(7, 1)))
	d, err := ds.ReadRecords(0, 5)
	assert.NoError(t, err)
	exp := append(make([]byte, 18), genRecords(7, 1)...)
	exp = append(exp, make([]byte, 6)...)
	assert.Equal(t, exp, d)
}

func TestOverwriteLatestWins(t *testing.T) {
	path := createFile(t, testSpec("X"))
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	appendRecords(t, ds, genRecords(0, 2))
	assert.NoError(t, ds.WriteRecords(1, genRecords(9, 1)))
	assert.NoError(t, f.Close())

	f, err = Open(path)
	assert.NoError(t, err)
	defer f.Close()
	ds, err = f.Dataset("X")
	assert.NoError(t, err)
	d, err := ds.ReadRecords(0, 2)
	assert.NoError(t, err)
	assert.Equal(t, append(genRecords(0, 1), genRecords(9, 1)...), d)
}

func TestResizeAndRanges(t *testing.T) {
	path := createFile(t, testSpec("X"))
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	defer f.Close()
	ds, err := f.Dataset("X")
	assert.NoError(t, err)

	assert.NoError(t, ds.Resize(2))
	err = ds.Resize(1)
	assert.True(t, errors.Is(err, ErrShrink))
	assert.Equal(t, 2, ds.Len())

	err = ds.WriteRecords(1, genRecords(0, 2))
	assert.True(t, errors.Is(err, ErrOutOfRange))
	err = ds.WriteRecords(0, []byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrDataSize))
	assert.NoError(t, ds.WriteRecords(2, nil))

	_, err = ds.ReadRecords(1, 2)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	d, err := ds.ReadRecords(2, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(d))

	// sizes that don't fit in int
	err = ds.Resize(math.MaxInt)
	assert.True(t, errors.Is(err, ErrOutOfRange), "got %v", err)
	assert.Equal(t, 2, ds.Len())
	_, err = ds.ReadRecords(1, math.MaxInt)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	err = ds.WriteRecords(math.MaxInt, genRecords(0, 1))
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestChunkSizeLimit(t *testing.T) {
	spec := DatasetSpec{Name: "X", DType: Uint8, RecordShape: []int{1024, 1024}, ChunkLen: 1024}
	assert.NoError(t, spec.Validate())
	spec.ChunkLen++
	err := spec.Validate()
	assert.True(t, errors.Is(err, ErrInvalidDataset), "got %v", err)

	path := createFile(t, testSpec("X"))
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	defer f.Close()
	_, err = f.CreateDataset(spec)
	assert.True(t, errors.Is(err, ErrInvalidDataset), "got %v", err)
	assert.Equal(t, []string{"X"}, f.Datasets())
}

func TestReadOnlyAndClosed(t *testing.T) {
	path := createFile(t, testSpec("X"))
	f, err := Open(path)
	assert.NoError(t, err)
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	assert.True(t, errors.Is(ds.Resize(1), ErrReadOnly))
	_, err = f.CreateDataset(testSpec("Y"))
	assert.True(t, errors.Is(err, ErrReadOnly))
	assert.NoError(t, f.Flush())

	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
	_, err = f.Dataset("X")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(ds.Resize(1), ErrClosed))
	assert.True(t, errors.Is(f.Flush(), ErrClosed))
}

func TestCreateDataset(t *testing.T) {
	path := createFile(t, testSpec("X"))
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	spec := testSpec("Y")
	spec.DType = Float64
	spec.RecordShape = nil
	ds, err := f.CreateDataset(spec)
	assert.NoError(t, err)
	assert.Equal(t, 8, ds.RecordBytes())
	appendRecords(t, ds, make([]byte, 16))
	_, err = f.CreateDataset(testSpec("X"))
	assert.True(t, errors.Is(err, ErrDatasetExists))
	assert.NoError(t, f.Close())

	f, err = Open(path)
	assert.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"X", "Y"}, f.Datasets())
	ds, err = f.Dataset("Y")
	assert.NoError(t, err)
	assert.Equal(t, []int{2}, ds.Shape())
}

// writeTwoRecords creates a file with dataset X of length 2 and returns its size
func writeTwoRecords(t *testing.T) (string, int64) {
	path := createFile(t, testSpec("X"))
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	appendRecords(t, ds, genRecords(0, 2))
	size := f.Size()
	assert.NoError(t, f.Close())

	st, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, size, st.Size())
	return path, size
}

func appendToFile(t *testing.T, path string, d string) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	assert.NoError(t, err)
	_, err = f.WriteString(d)
	assert.NoError(t, err)
	assert.NoError(t, f.Close())
}

func TestTornTail(t *testing.T) {
	tails := []string{
		"--- 100 5000 chunk:2:X\nabc",
		"--- 30 5000 ext",
		"--- 4 5000 extent\nabcd",
	}
	for _, tail := range tails {
		path, size := writeTwoRecords(t)
		appendToFile(t, path, tail)

		f, err := Open(path)
		assert.NoError(t, err, "tail '%s'", tail)
		assert.Equal(t, size, f.Size())
		assert.Equal(t, int64(len(tail)), f.TornBytes())
		assert.Equal(t, int64(len(tail)), f.Info().TornBytes)
		ds, err := f.Dataset("X")
		assert.NoError(t, err)
		assert.Equal(t, 2, ds.Len())
		d, err := ds.ReadRecords(0, 2)
		assert.NoError(t, err)
		assert.Equal(t, genRecords(0, 2), d)
		assert.NoError(t, f.Close())

		// read-only open leaves the file alone
		st, err := os.Stat(path)
		assert.NoError(t, err)
		assert.Equal(t, size+int64(len(tail)), st.Size())

		f, err = OpenAppend(path)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), f.TornBytes())
		ds, err = f.Dataset("X")
		assert.NoError(t, err)
		appendRecords(t, ds, genRecords(2, 1))
		assert.NoError(t, f.Flush())
		assert.NoError(t, f.Close())

		f, err = Open(path)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), f.TornBytes())
		ds, err = f.Dataset("X")
		assert.NoError(t, err)
		d, err = ds.ReadRecords(0, 3)
		assert.NoError(t, err)
		assert.Equal(t, genRecords(0, 3), d)
		assert.NoError(t, f.Close())
	}
}

func TestCutInLastRecord(t *testing.T) {
	path, size := writeTwoRecords(t)
	assert.NoError(t, os.Truncate(path, size-1))

	f, err := OpenAppend(path)
	assert.NoError(t, err)
	// the last chunk is gone, its records read as zeros
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	d, err := ds.ReadRecords(0, 2)
	assert.NoError(t, err)
	assert.Equal(t, genRecords(0, 1), d[:6])
	assert.Equal(t, make([]byte, 6), d[6:])
	assert.NoError(t, f.Close())

	st, err := os.Stat(path)
	assert.NoError(t, err)
	assert.True(t, st.Size() < size-1, "size %d", st.Size())
}

func TestGarbageIsCorrupt(t *testing.T) {
	// a complete record in an unknown format is not a torn tail
	path, _ := writeTwoRecords(t)
	appendToFile(t, path, "garbage\n--- 4 5000 extent\nabcd\n")
	_, err := Open(path)
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	_, err = OpenAppend(path)
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)

	// so is a truncated header record
	path = filepath.Join(t.TempDir(), "torn.h5c")
	assert.NoError(t, os.WriteFile(path, []byte("--- 40 5000 container\nformat"), 0644))
	_, err = Open(path)
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
}

func TestNotAContainer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.h5c")
	assert.NoError(t, os.WriteFile(path, nil, 0644))
	_, err := Open(path)
	assert.True(t, errors.Is(err, ErrCorrupt))

	path = filepath.Join(dir, "other.txt")
	assert.NoError(t, os.WriteFile(path, []byte("--- 4 1000 something\nabc\n"), 0644))
	_, err = Open(path)
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = Open(filepath.Join(dir, "missing.h5c"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestInfo(t *testing.T) {
	spec := testSpec("X")
	spec.ChunkLen = 2
	path := createFile(t, spec)
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	defer f.Close()
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	appendRecords(t, ds, genRecords(0, 3))

	info := f.Info()
	assert.Equal(t, path, info.Path)
	assert.Equal(t, 1, info.Version)
	assert.Equal(t, f.Size(), info.Size)
	assert.Equal(t, 1, len(info.Datasets))
	di := info.Datasets[0]
	assert.Equal(t, []int{3, 2, 3}, di.Shape)
	assert.Equal(t, []int{2, 2, 3}, di.ChunkShape)
	assert.Equal(t, 2, di.ChunksStored)
	assert.True(t, di.StoredBytes > 0)

	for _, prettify := range []bool{false, true} {
		d, err := info.JSON(prettify)
		assert.NoError(t, err)
		var got FileInfo
		assert.NoError(t, json.Unmarshal(d, &got))
		assert.Equal(t, *info, got)
		assert.Equal(t, prettify, bytes.Contains(d, []byte("\n")))
	}
}

func TestParseShape(t *testing.T) {
	shape, err := parseShape("")
	assert.NoError(t, err)
	assert.Equal(t, []int{}, shape)
	shape, err = parseShape("20,20,3")
	assert.NoError(t, err)
	assert.Equal(t, []int{20, 20, 3}, shape)
	assert.Equal(t, "20,20,3", formatShape(shape))
	_, err = parseShape("2,-1")
	assert.Error(t, err)
	_, err = parseShape("2,,3")
	assert.Error(t, err)
}

func TestCompact(t *testing.T) {
	spec := testSpec("X")
	spec.ChunkLen = 4
	path := createFile(t, spec, testSpec("Y"))
	f, err := OpenAppend(path)
	assert.NoError(t, err)
	ds, err := f.Dataset("X")
	assert.NoError(t, err)
	// every append re-writes the partially filled chunk
	for i := 0; i < 10; i++ {
		appendRecords(t, ds, genRecords(i, 1))
	}
	assert.NoError(t, f.Close())

	before, after, err := Compact(path)
	assert.NoError(t, err)
	assert.True(t, after < before, "before: %d, after: %d", before, after)
	st, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, after, st.Size())

	f, err = Open(path)
	assert.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"X", "Y"}, f.Datasets())
	ds, err = f.Dataset("X")
	assert.NoError(t, err)
	assert.Equal(t, 10, ds.Len())
	assert.Equal(t, 3, ds.Info().ChunksStored)
	d, err := ds.ReadRecords(0, 10)
	assert.NoError(t, err)
	assert.Equal(t, genRecords(0, 10), d)

	_, _, err = Compact(filepath.Join(t.TempDir(), "missing.h5c"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
