package arraystore

import (
	"github.com/kjk/arraystore/container"
)

// Backend is the storage used by a Store. The default is package container.
type Backend interface {
	// Create creates a new file with an empty dataset
	Create(path string, spec container.DatasetSpec) error
	// OpenAppend opens an existing file for writing
	OpenAppend(path string) (BackendFile, error)
}

type BackendFile interface {
	Dataset(name string) (BackendDataset, error)
	// Flush commits written data to durable storage
	Flush() error
	Close() error
}

type BackendDataset interface {
	Len() int
	RecordShape() []int
	DType() container.DType
	Resize(n int) error
	WriteRecords(start int, data []byte) error
}

// ContainerBackend stores arrays in container files
type ContainerBackend struct{}

func (ContainerBackend) Create(path string, spec container.DatasetSpec) error {
	return container.Create(path, spec)
}

func (ContainerBackend) OpenAppend(path string) (BackendFile, error) {
	f, err := container.OpenAppend(path)
	if err != nil {
		return nil, err
	}
	return containerFile{f}, nil
}

type containerFile struct {
	*container.File
}

func (f containerFile) Dataset(name string) (BackendDataset, error) {
	ds, err := f.File.Dataset(name)
	if err != nil {
		return nil, err
	}
	return ds, nil
}
