package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pando-labs/pandocore"
	"github.com/pando-labs/pandocore/internal/logging"
)

// RowLogger is the "one row per packet" logging shape (spec §4.8.1):
// channels become columns of a 2D data table, with header (and
// optional meta) fields going to sibling 1D tables. It enforces
// strictly sequential packet sequence numbers starting at 0.
type RowLogger struct {
	data    *Table
	headers *Table
	meta    *Table
	nextSeq int64
}

// NewRowLogger creates the `<payloadName>_channels` data table (2D iff
// len(channels)>1), a `<payloadName>_headers` table, and, if
// metaDType.Size > 0, a `<payloadName>_meta` table — per spec §6.5's
// archive layout.
func NewRowLogger(c *Container, logger *logging.Logger, payloadName string, dataDType DType, channels []int, headerDType DType, metaDType DType, chunkSizeRows uint64) (*RowLogger, error) {
	data, err := NewTable(c, logger, payloadName+"_channels", dataDType, channels, chunkSizeRows)
	if err != nil {
		return nil, err
	}
	headers, err := NewTable(c, logger, payloadName+"_headers", headerDType, nil, chunkSizeRows)
	if err != nil {
		return nil, err
	}

	rl := &RowLogger{data: data, headers: headers}
	if metaDType.Size > 0 {
		meta, err := NewTable(c, logger, payloadName+"_meta", metaDType, nil, chunkSizeRows)
		if err != nil {
			return nil, err
		}
		rl.meta = meta
	}
	return rl, nil
}

// LogRow appends one packet's header and channel data (and, if this
// logger has a meta table, its meta bytes), after checking that
// sequenceNumber is exactly the next expected value.
func (l *RowLogger) LogRow(sequenceNumber int64, headerRow, dataRow, metaRow []byte) error {
	if sequenceNumber != l.nextSeq {
		return pandocore.New("LogRow", "archive", pandocore.KindSequenceGap,
			fmt.Sprintf("sequence number %d is not the expected next value %d", sequenceNumber, l.nextSeq))
	}
	if err := l.headers.Append(headerRow); err != nil {
		return err
	}
	if err := l.data.Append(dataRow); err != nil {
		return err
	}
	if l.meta != nil {
		if err := l.meta.Append(metaRow); err != nil {
			return err
		}
	}
	l.nextSeq++
	return nil
}

// Close flushes and closes every table this logger owns.
func (l *RowLogger) Close() error {
	for _, t := range []*Table{l.data, l.headers, l.meta} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			return err
		}
	}
	return nil
}

// ColumnLogger is the "one row per element of a repeated field"
// logging shape (spec §4.8.2): a dataset is created per channel the
// first time that channel is seen. Every channel's data in a single
// LogPayload call must have identical length.
type ColumnLogger struct {
	c             *Container
	logger        *logging.Logger
	payloadName   string
	dtype         DType
	chunkSizeRows uint64
	tables        map[int]*Table
}

// NewColumnLogger constructs an empty ColumnLogger; per-channel tables
// are created lazily on first sight of that channel, matching the
// original's "creates one dataset per channel on first sight".
func NewColumnLogger(c *Container, logger *logging.Logger, payloadName string, dtype DType, chunkSizeRows uint64) *ColumnLogger {
	return &ColumnLogger{c: c, logger: logger, payloadName: payloadName, dtype: dtype, chunkSizeRows: chunkSizeRows, tables: make(map[int]*Table)}
}

// LogPayload appends one element-batch per channel present in
// byChannel, asserting every channel in the same call carries the same
// element count.
func (l *ColumnLogger) LogPayload(byChannel map[int][]byte) error {
	elementCount := -1
	for ch, data := range byChannel {
		n := len(data) / l.dtype.Size
		if elementCount == -1 {
			elementCount = n
		} else if n != elementCount {
			return pandocore.New("LogPayload", "archive", pandocore.KindSchemaMismatch,
				fmt.Sprintf("channel %d has %d elements, expected %d (all repeated fields in a payload must have identical length)", ch, n, elementCount))
		}
	}

	for ch, data := range byChannel {
		t, ok := l.tables[ch]
		if !ok {
			var err error
			t, err = NewTable(l.c, l.logger, fmt.Sprintf("%sChannel%d", l.payloadName, ch), l.dtype, nil, l.chunkSizeRows)
			if err != nil {
				return err
			}
			l.tables[ch] = t
		}
		if err := t.Append(data); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes every per-channel table.
func (l *ColumnLogger) Close() error {
	for _, t := range l.tables {
		if err := t.Close(); err != nil {
			return err
		}
	}
	return nil
}

// ChannellessLogger is the "one row per packet in a 1D dataset" shape
// (spec §4.8.3): payloads go to a single 1D table, with a sibling
// headers table for envelopes.
type ChannellessLogger struct {
	data    *Table
	headers *Table
}

// NewChannellessLogger creates the `<payloadName>` and
// `<payloadName>_headers` tables.
func NewChannellessLogger(c *Container, logger *logging.Logger, payloadName string, dataDType, headerDType DType, chunkSizeRows uint64) (*ChannellessLogger, error) {
	data, err := NewTable(c, logger, payloadName, dataDType, nil, chunkSizeRows)
	if err != nil {
		return nil, err
	}
	headers, err := NewTable(c, logger, payloadName+"_headers", headerDType, nil, chunkSizeRows)
	if err != nil {
		return nil, err
	}
	return &ChannellessLogger{data: data, headers: headers}, nil
}

// LogPacket appends one packet's header and payload bytes.
func (l *ChannellessLogger) LogPacket(headerRow, dataRow []byte) error {
	if err := l.headers.Append(headerRow); err != nil {
		return err
	}
	return l.data.Append(dataRow)
}

// Close flushes and closes both tables.
func (l *ChannellessLogger) Close() error {
	if err := l.headers.Close(); err != nil {
		return err
	}
	return l.data.Close()
}

// WriteMetadata writes the session configuration as typed attributes
// under a `/metadata` group (spec §6.5), realized here as a JSON
// sidecar file at the container root since this container has no true
// HDF5-style group hierarchy. Values may be scalars, strings, maps
// (written as nested objects, standing in for compound records), or
// slices (standing in for integer/array attributes).
func WriteMetadata(c *Container, attrs map[string]any) error {
	b, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		return pandocore.Wrap("WriteMetadata", "archive", err)
	}
	path := filepath.Join(c.dir, "metadata.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return pandocore.Wrap("WriteMetadata", "archive", err)
	}
	return nil
}

// ReadMetadata reads back the `/metadata` attributes written by
// WriteMetadata.
func ReadMetadata(c *Container) (map[string]any, error) {
	path := filepath.Join(c.dir, "metadata.json")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pandocore.Wrap("ReadMetadata", "archive", err)
	}
	var attrs map[string]any
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, pandocore.Wrap("ReadMetadata", "archive", err)
	}
	return attrs, nil
}
