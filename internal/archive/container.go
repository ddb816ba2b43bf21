// Package archive implements the archive writer (C8): a tabular
// dataset abstraction over a chunked binary container (the ".pdaf"
// format), grounded on hdf5_table.h's HDF5Table for the chunking
// algorithm. Since no HDF5 C-library binding is reachable from a pure
// Go module, and the example pack carries no HDF5 dependency, the
// underlying hierarchical store is reimplemented from scratch: a
// Container is a directory on disk holding one backing file per
// dataset plus a small JSON attribute sidecar, generalizing the
// teacher's backend.Memory growable byte-range store (a fixed []byte
// with ReadAt/WriteAt) from RAM to a per-dataset os.File that grows on
// demand.
package archive

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pando-labs/pandocore"
)

// Container is the ".pdaf" archive root: a directory holding one
// dataset file and attribute sidecar per named table, standing in for
// H5::H5File.
type Container struct {
	dir string
}

// Open opens (creating if necessary) a Container rooted at dir.
func Open(dir string) (*Container, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pandocore.Wrap("Open", "archive", err)
	}
	return &Container{dir: dir}, nil
}

func (c *Container) dataPath(name string) string {
	return filepath.Join(c.dir, name+".pdaf")
}

func (c *Container) attrPath(name string) string {
	return filepath.Join(c.dir, name+".attrs.json")
}

// datasetAttrs is the on-disk attribute sidecar for one dataset,
// standing in for an HDF5 dataset's dataspace/chunk-property-list/
// attribute metadata.
type datasetAttrs struct {
	DType         string `json:"dtype"`
	ElementSize   int    `json:"element_size"`
	NRows         uint64 `json:"n_rows"`
	NCols         uint64 `json:"n_cols"`
	ChunkSizeRows uint64 `json:"chunk_size_rows"`
	Channels      []int  `json:"selected_channels,omitempty"`
}

func (c *Container) readAttrs(name string) (datasetAttrs, error) {
	var a datasetAttrs
	b, err := os.ReadFile(c.attrPath(name))
	if err != nil {
		return a, pandocore.Wrap("readAttrs", "archive", err)
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, pandocore.Wrap("readAttrs", "archive", err)
	}
	return a, nil
}

func (c *Container) writeAttrs(name string, a datasetAttrs) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return pandocore.Wrap("writeAttrs", "archive", err)
	}
	if err := os.WriteFile(c.attrPath(name), b, 0o644); err != nil {
		return pandocore.Wrap("writeAttrs", "archive", err)
	}
	return nil
}

// fileStore is a growable byte-addressable backing store for one
// dataset's raw row bytes, generalizing backend.Memory's ReadAt/
// WriteAt-over-a-preallocated-slice idiom to a file that grows with
// Truncate instead of being sized up front.
type fileStore struct {
	f *os.File
}

func (c *Container) createStore(name string) (*fileStore, error) {
	f, err := os.OpenFile(c.dataPath(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, pandocore.Wrap("createStore", "archive", err)
	}
	return &fileStore{f: f}, nil
}

func (c *Container) openStore(name string) (*fileStore, error) {
	f, err := os.OpenFile(c.dataPath(name), os.O_RDWR, 0o644)
	if err != nil {
		return nil, pandocore.Wrap("openStore", "archive", err)
	}
	return &fileStore{f: f}, nil
}

func (s *fileStore) WriteAt(p []byte, off int64) error {
	_, err := s.f.WriteAt(p, off)
	if err != nil {
		return pandocore.Wrap("WriteAt", "archive", err)
	}
	return nil
}

func (s *fileStore) ReadAt(p []byte, off int64) error {
	n, err := s.f.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err != nil {
		return pandocore.Wrap("ReadAt", "archive", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	return s.f.Close()
}
