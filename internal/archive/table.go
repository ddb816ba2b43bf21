package archive

import (
	"github.com/c2h5oh/datasize"

	"github.com/pando-labs/pandocore"
	"github.com/pando-labs/pandocore/internal/lockadapter"
	"github.com/pando-labs/pandocore/internal/logging"
)

// DType is a table's element datatype, matching the scalar types
// named in spec's schema-type table (C9). Name is persisted in the
// attribute sidecar so an existing dataset round-trips its dtype.
type DType struct {
	Name string
	Size int // bytes
}

var (
	Uint8   = DType{"u8", 1}
	Uint16  = DType{"u16", 2}
	Uint32  = DType{"u32", 4}
	Uint64  = DType{"u64", 8}
	Int8    = DType{"i8", 1}
	Int16   = DType{"i16", 2}
	Int32   = DType{"i32", 4}
	Int64   = DType{"i64", 8}
	Float32 = DType{"f32", 4}
	Float64 = DType{"f64", 8}
)

var dtypesByName = map[string]DType{
	Uint8.Name: Uint8, Uint16.Name: Uint16, Uint32.Name: Uint32, Uint64.Name: Uint64,
	Int8.Name: Int8, Int16.Name: Int16, Int32.Name: Int32, Int64.Name: Int64,
	Float32.Name: Float32, Float64.Name: Float64,
}

// maxChunkBytes mirrors hdf5_table.h's kMaxChunkBytes (HDF5 limits a
// chunk to under 4GiB), expressed with the teacher's datasize
// dependency instead of a bare numeric literal.
const maxChunkBytes = datasize.ByteSize(0xffffffff)

// Table is an extensible 1D or 2D dataset backed by a Container,
// grounded line-for-line on HDF5Table's constructor/Append/
// WriteChunkBuff/Read.
type Table struct {
	store  *fileStore
	c      *Container
	name   string
	logger *logging.Logger

	dtype         DType
	nCols         uint64
	nRows         uint64
	chunkSizeRows uint64
	rowBytes      uint64
	chunkBytes    uint64
	channels      []int

	chunkBuf          []byte
	chunkBufOccupancy uint64
}

// NewTable creates a new dataset, per HDF5Table's "constructor for
// creating a new dataset". channels may be nil/empty, meaning the
// selected_channels attribute is omitted (1D dataset, column count 1).
func NewTable(c *Container, logger *logging.Logger, name string, dtype DType, channels []int, chunkSizeRows uint64) (*Table, error) {
	nCols := uint64(1)
	if len(channels) > 0 {
		nCols = uint64(len(channels))
	}
	rowBytes := uint64(dtype.Size) * nCols

	maxChunkRows := uint64(maxChunkBytes) / rowBytes
	if chunkSizeRows > maxChunkRows {
		if logger != nil {
			logger.Warnf("archive: limiting chunk size to %d rows for dataset %s to stay below 4GiB (dtype_size=%d, n_cols=%d)",
				maxChunkRows, name, dtype.Size, nCols)
		}
		chunkSizeRows = maxChunkRows
	}
	if chunkSizeRows < 1 {
		return nil, pandocore.New("NewTable", "archive", pandocore.KindConfigMismatch,
			"a single row is larger than the maximum allowable chunk size")
	}

	store, err := c.createStore(name)
	if err != nil {
		return nil, err
	}

	t := &Table{
		store: store, c: c, name: name, logger: logger,
		dtype: dtype, nCols: nCols, chunkSizeRows: chunkSizeRows,
		rowBytes: rowBytes, chunkBytes: rowBytes * chunkSizeRows,
		channels: channels,
	}
	if err := t.persistAttrs(); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenTable opens an existing dataset, per HDF5Table's "constructor
// for opening an existing dataset". The channels attribute falls back
// to the default column==channel scheme when absent, matching the
// original.
func OpenTable(c *Container, logger *logging.Logger, name string) (*Table, error) {
	attrs, err := c.readAttrs(name)
	if err != nil {
		return nil, err
	}
	dtype, ok := dtypesByName[attrs.DType]
	if !ok {
		return nil, pandocore.New("OpenTable", "archive", pandocore.KindSchemaMismatch,
			"unknown dtype "+attrs.DType)
	}

	channels := attrs.Channels
	if len(channels) == 0 && attrs.NCols > 1 {
		channels = make([]int, attrs.NCols)
		for i := range channels {
			channels[i] = i
		}
	}

	store, err := c.openStore(name)
	if err != nil {
		return nil, err
	}

	return &Table{
		store: store, c: c, name: name, logger: logger,
		dtype: dtype, nCols: attrs.NCols, nRows: attrs.NRows,
		chunkSizeRows: attrs.ChunkSizeRows, rowBytes: uint64(dtype.Size) * attrs.NCols,
		chunkBytes: uint64(dtype.Size) * attrs.NCols * attrs.ChunkSizeRows,
		channels:   channels,
	}, nil
}

func (t *Table) persistAttrs() error {
	return t.c.writeAttrs(t.name, datasetAttrs{
		DType: t.dtype.Name, ElementSize: t.dtype.Size,
		NRows: t.nRows, NCols: t.nCols, ChunkSizeRows: t.chunkSizeRows,
		Channels: t.channels,
	})
}

// Channels returns the selected_channels attribute (empty if unset).
func (t *Table) Channels() []int { return t.channels }

// DType returns the table's element datatype.
func (t *Table) DType() DType { return t.dtype }

// NRows returns the dataset's current logical row count: rows written
// out in full or partial chunks. Rows still held in the chunk buffer
// are not counted until a chunk write or Flush.
func (t *Table) NRows() uint64 {
	g := lockadapter.Lock()
	defer g.Unlock()
	return t.nRows
}

// NCols returns the dataset's column count.
func (t *Table) NCols() uint64 { return t.nCols }

// Append writes rows to the dataset, per HDF5Table::Append: bypassing
// the chunk buffer with a direct write when it is empty and a whole
// chunk is available, otherwise copying into the buffer and flushing
// it when full.
func (t *Table) Append(data []byte) error {
	g := lockadapter.Lock()
	defer g.Unlock()

	if uint64(len(data))%t.rowBytes != 0 {
		return pandocore.New("Append", "archive", pandocore.KindOutOfRange,
			"append data is not a whole multiple of the row size")
	}
	nRows := uint64(len(data)) / t.rowBytes

	var rowIdx uint64
	for rowIdx < nRows {
		remaining := nRows - rowIdx
		if t.chunkBufOccupancy == 0 && remaining >= t.chunkSizeRows {
			start := rowIdx * t.rowBytes
			if err := t.appendChunk(data[start:start+t.chunkBytes], t.chunkSizeRows); err != nil {
				return err
			}
			rowIdx += t.chunkSizeRows
			continue
		}

		rowsToCopy := t.chunkSizeRows - t.chunkBufOccupancy
		if remaining < rowsToCopy {
			rowsToCopy = remaining
		}
		if t.chunkBuf == nil {
			t.chunkBuf = make([]byte, t.chunkBytes)
		}
		srcStart := rowIdx * t.rowBytes
		srcEnd := srcStart + rowsToCopy*t.rowBytes
		dstStart := t.chunkBufOccupancy * t.rowBytes
		copy(t.chunkBuf[dstStart:], data[srcStart:srcEnd])
		t.chunkBufOccupancy += rowsToCopy

		if t.chunkBufOccupancy == t.chunkSizeRows {
			if err := t.appendChunk(t.chunkBuf, t.chunkBufOccupancy); err != nil {
				return err
			}
			t.chunkBufOccupancy = 0
		}
		rowIdx += rowsToCopy
	}
	return nil
}

// Flush writes out any partially-filled chunk buffer, per
// HDF5Table::WriteChunkBuff. The buffer's occupancy is left unchanged
// so the same rows are re-written (overwriting the partial chunk) on
// the next appendChunk call.
func (t *Table) Flush() error {
	g := lockadapter.Lock()
	defer g.Unlock()
	return t.flushLocked()
}

func (t *Table) flushLocked() error {
	if t.chunkBufOccupancy == 0 {
		return nil
	}
	for i := t.chunkBufOccupancy * t.rowBytes; i < t.chunkBytes; i++ {
		t.chunkBuf[i] = 0
	}
	return t.appendChunk(t.chunkBuf, t.chunkBufOccupancy)
}

// appendChunk writes buf (always exactly chunkBytes long) as a chunk
// at the end of the dataset, rolling any previously-written partial
// chunk back so it is overwritten rather than fragmenting the
// dataset — HDF5Table::AppendChunk's "dims_[0] -= dims_[0] %
// chunk_size_" line, generalized to this container's row-count
// bookkeeping.
func (t *Table) appendChunk(buf []byte, nRowsWritten uint64) error {
	if uint64(len(buf)) != t.chunkBytes {
		return pandocore.New("appendChunk", "archive", pandocore.KindConfigMismatch,
			"chunk buffer size mismatch")
	}

	t.nRows -= t.nRows % t.chunkSizeRows
	offset := int64(t.nRows * t.rowBytes)
	if err := t.store.WriteAt(buf, offset); err != nil {
		return err
	}
	t.nRows += nRowsWritten
	return t.persistAttrs()
}

// Read performs a hyperslab-style read of nRows rows starting at
// rowOffset, per HDF5Table::Read.
func (t *Table) Read(rowOffset, nRows uint64) ([]byte, error) {
	g := lockadapter.Lock()
	defer g.Unlock()

	buf := make([]byte, nRows*t.rowBytes)
	if err := t.store.ReadAt(buf, int64(rowOffset*t.rowBytes)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close flushes any partial chunk and closes the underlying store, per
// HDF5Table's destructor.
func (t *Table) Close() error {
	g := lockadapter.Lock()
	if err := t.flushLocked(); err != nil {
		g.Unlock()
		return err
	}
	g.Unlock()
	return t.store.Close()
}
