package container

import (
	"encoding/json"

	"github.com/tidwall/pretty"
)

// DatasetInfo is a summary of a dataset
type DatasetInfo struct {
	Name       string `json:"name"`
	DType      DType  `json:"dtype"`
	Shape      []int  `json:"shape"`
	ChunkShape []int  `json:"chunk_shape"`
	Codec      string `json:"codec"`
	// number of distinct chunks that have data
	ChunksStored int `json:"chunks_stored"`
	// compressed size of the latest version of stored chunks
	StoredBytes int64 `json:"stored_bytes"`
}

// FileInfo is a summary of a container file
type FileInfo struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Size    int64  `json:"size"`
	// incomplete record at the end, removed by the next append
	TornBytes int64         `json:"torn_bytes,omitempty"`
	Datasets  []DatasetInfo `json:"datasets"`
}

func (d *Dataset) Info() DatasetInfo {
	res := DatasetInfo{
		Name:         d.spec.Name,
		DType:        d.spec.DType,
		Shape:        d.Shape(),
		ChunkShape:   append([]int{d.spec.ChunkLen}, d.spec.RecordShape...),
		Codec:        d.Codec(),
		ChunksStored: len(d.chunks),
	}
	for _, loc := range d.chunks {
		res.StoredBytes += loc.size
	}
	return res
}

// Info returns a summary of the file and its datasets
func (f *File) Info() *FileInfo {
	res := &FileInfo{
		Path:      f.path,
		Version:   f.version,
		Size:      f.size,
		TornBytes: f.tornBytes,
		Datasets:  []DatasetInfo{},
	}
	for _, ds := range f.datasets {
		res.Datasets = append(res.Datasets, ds.Info())
	}
	return res
}

// JSON serializes info as JSON, optionally formatted for humans
func (i *FileInfo) JSON(prettify bool) ([]byte, error) {
	d, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	if prettify {
		d = pretty.Pretty(d)
	}
	return d, nil
}
