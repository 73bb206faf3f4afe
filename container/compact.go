package container

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/kjk/arraystore/atomicfile"
	"github.com/kjk/arraystore/siser"
)

// Compact rewrites the container at path keeping only the latest
// version of every chunk and a single extent record per dataset.
// The file is replaced atomically. Returns sizes of the file before
// and after.
func Compact(path string) (int64, int64, error) {
	f, err := Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	af, err := atomicfile.New(path)
	if err != nil {
		return 0, 0, err
	}
	defer af.RemoveIfNotClosed()

	w := siser.NewWriter(af)
	if err = writeHeaderRecord(w); err != nil {
		return 0, 0, err
	}
	for _, ds := range f.datasets {
		if err = writeDatasetRecord(w, &ds.spec, ds.codec); err != nil {
			return 0, 0, err
		}
	}
	for _, ds := range f.datasets {
		if ds.length == 0 {
			continue
		}
		if err = writeExtentRecord(w, ds.spec.Name, ds.length); err != nil {
			return 0, 0, err
		}
		for _, idx := range slices.Sorted(maps.Keys(ds.chunks)) {
			loc := ds.chunks[idx]
			d := make([]byte, loc.size)
			if _, err = f.f.ReadAt(d, loc.pos); err != nil {
				return 0, 0, fmt.Errorf("%s: reading chunk %d of '%s': %w", path, idx, ds.spec.Name, err)
			}
			if _, err = w.Write(d, time.Now(), chunkName(idx, ds.spec.Name)); err != nil {
				return 0, 0, err
			}
		}
	}

	sizeBefore := f.size + f.tornBytes
	f.Close()
	if err = af.Close(); err != nil {
		return 0, 0, err
	}
	return sizeBefore, w.Pos, nil
}
