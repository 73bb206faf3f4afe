// Package container stores resizable, chunked, compressed numeric
// datasets in a single file.
//
// A dataset has a fixed record shape and element type and grows along
// its leading (growing) axis. Records are grouped into chunks of
// ChunkLen records and each chunk is compressed with a codec from
// package codec.
//
// # File Format
//
// The file is a sequence of siser records and is only ever appended to:
//
//	--- <len> <timestamp> container    format: arraystore-container, version: 1
//	--- <len> <timestamp> dataset      name, dtype, shape, chunk, codec
//	--- <len> <timestamp> extent       dataset, length
//	--- <len> <timestamp> chunk:<index>:<dataset>
//	<compressed chunk bytes>
//
// The latest extent record of a dataset is its length. The latest chunk
// record for a given index wins. Records that were never written read
// back as zeros.
//
// # Basic Usage
//
//	spec := container.DatasetSpec{
//	    Name:        "X",
//	    DType:       container.Float32,
//	    RecordShape: []int{20, 20, 3},
//	    ChunkLen:    1,
//	    Codec:       "gzip",
//	}
//	err := container.Create("data.h5c", spec)
//
//	f, err := container.OpenAppend("data.h5c")
//	defer f.Close()
//	ds, err := f.Dataset("X")
//	n := ds.Len()
//	err = ds.Resize(n + 1)
//	err = ds.WriteRecords(n, recordBytes)
//	err = f.Flush()
//
// # Thread Safety
//
// A File is not safe for concurrent use. Only one process should have
// a container open for writing.
package container
