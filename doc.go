// Package arraystore appends fixed-shape numeric records to a dataset
// stored in a file, growing it along its first axis.
//
// The data is stored in a container file (see package container) where the
// dataset is chunked along the growing axis and each chunk is compressed.
//
// # Basic Usage
//
//	s := &arraystore.Float32Store{
//	    Path:    "out/images.h5c",
//	    Dataset: "X",
//	    Shape:   []int{20, 20, 3},
//	}
//	err := arraystore.Open(s)
//
//	// append a single record
//	err = s.Append(arraystore.Full[float32](1, 20, 20, 3))
//
//	// append a batch of 5 records
//	err = s.Append(arraystore.Full[float32](2, 5, 20, 20, 3))
//
// After these calls the dataset has shape (6, 20, 20, 3).
//
// Every Append opens the file, resizes the dataset, writes the records,
// flushes them to disk and closes the file. If the process dies during
// Append, the dataset might be resized but not fully written.
//
// # Validation
//
// Append rejects values that are neither a single record nor a batch of
// records with *ShapeMismatchError, before touching the file. Backend
// failures are returned as *BackendIOError.
//
// Only one Store should write to a given file at a time.
package arraystore
