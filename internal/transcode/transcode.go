// Package transcode implements the schema transcoder (C9): it copies
// protobuf messages into flat byte buffers laid out according to a
// fixed-width record schema learned from a prototype message, for
// archive.Table to store. It is grounded line-for-line on
// protobuf_h5_transcoder.h/.cpp's ProtobufH5RowTranscoder and
// ProtobufH5ColTranscoder, with archive.DType standing in for the
// original's HDF5 compound-type field descriptor.
package transcode

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/pando-labs/pandocore"
)

// FieldKind is the set of scalar wire representations a message field
// can be transcoded to, mirroring HDF5CompTypeFieldDescriptor::CppType.
type FieldKind int

const (
	KindInt8 FieldKind = iota
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
)

func (k FieldKind) size() int {
	switch k {
	case KindInt8, KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindUint64, KindFloat64:
		return 8
	default:
		return 0
	}
}

// category groups a protobuf field's native cpp_type with the FieldKind
// overrides it may be narrowed to, matching the SUPPORT_TYPES(...)
// macro expansions in protobuf_h5_transcoder.cpp.
type category int

const (
	catInt32 category = iota
	catInt64
	catUint32
	catUint64
	catFloat
	catDouble
	catEnum
	catUnsupported
)

func categoryOf(k protoreflect.Kind) category {
	switch k {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return catInt32
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return catInt64
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return catUint32
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return catUint64
	case protoreflect.FloatKind:
		return catFloat
	case protoreflect.DoubleKind:
		return catDouble
	case protoreflect.EnumKind:
		return catEnum
	default:
		return catUnsupported
	}
}

// defaultKind is TypeOfField: the HDF5 type a field gets when no
// FieldTypeOverride names it explicitly.
func defaultKind(c category) (FieldKind, bool) {
	switch c {
	case catInt32:
		return KindInt32, true
	case catInt64:
		return KindInt64, true
	case catUint32:
		return KindUint32, true
	case catUint64:
		return KindUint64, true
	case catFloat:
		return KindFloat32, true
	case catDouble:
		return KindFloat64, true
	case catEnum:
		return KindInt32, true
	default:
		return 0, false
	}
}

// allowedOverride mirrors the exact SUPPORT_TYPES(PROTO, H5) pairs the
// original enumerates for both row and column transcoders.
func allowedOverride(c category, k FieldKind) bool {
	switch c {
	case catInt32:
		return k == KindInt8 || k == KindInt16 || k == KindInt32
	case catInt64:
		return k == KindInt64
	case catUint32:
		return k == KindUint8 || k == KindUint16 || k == KindUint32
	case catUint64:
		return k == KindUint64
	case catFloat:
		return k == KindFloat32
	case catDouble:
		return k == KindFloat64
	case catEnum:
		return k == KindInt32
	default:
		return false
	}
}

// FieldTypeOverride pins a named field to an explicit FieldKind instead
// of its category's default, matching FieldTypeOverride.
type FieldTypeOverride struct {
	FieldName string
	Kind      FieldKind
}

func overrideFor(overrides []FieldTypeOverride, name protoreflect.Name) (FieldKind, bool) {
	for _, o := range overrides {
		if protoreflect.Name(o.FieldName) == name {
			return o.Kind, true
		}
	}
	return 0, false
}

// fieldSpec is one field's resolved position inside a record.
type fieldSpec struct {
	fd       protoreflect.FieldDescriptor
	kind     FieldKind
	arrayLen int
	offset   int
}

func resolveKind(fd protoreflect.FieldDescriptor, overrides []FieldTypeOverride) (FieldKind, error) {
	cat := categoryOf(fd.Kind())
	if cat == catUnsupported {
		return 0, pandocore.New("resolveKind", "transcode", pandocore.KindSchemaMismatch,
			fmt.Sprintf("field %q has an unsupported protobuf type", fd.Name()))
	}
	if k, ok := overrideFor(overrides, fd.Name()); ok {
		if !allowedOverride(cat, k) {
			return 0, pandocore.New("resolveKind", "transcode", pandocore.KindSchemaMismatch,
				fmt.Sprintf("field %q cannot be overridden to the requested type", fd.Name()))
		}
		return k, nil
	}
	k, _ := defaultKind(cat)
	return k, nil
}

// RowTranscoder serializes one protobuf message per output row;
// repeated fields become fixed-length in-row arrays, their length
// learned from a non-empty prototype message. Grounded on
// ProtobufH5RowTranscoder.
type RowTranscoder struct {
	descriptor protoreflect.MessageDescriptor
	fields     []fieldSpec
	rowBytes   int
}

// NewRowTranscoder builds a RowTranscoder for every field in prototype,
// failing if any repeated field is empty in the prototype (its array
// length cannot be learned) or a field's resolved kind is unsupported.
func NewRowTranscoder(prototype proto.Message, overrides []FieldTypeOverride) (*RowTranscoder, error) {
	md := prototype.ProtoReflect().Descriptor()
	fields := md.Fields()

	rt := &RowTranscoder{descriptor: md}
	offset := 0
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		kind, err := resolveKind(fd, overrides)
		if err != nil {
			return nil, err
		}

		arrayLen := 1
		if fd.IsList() {
			arrayLen = prototype.ProtoReflect().Get(fd).List().Len()
			if arrayLen == 0 {
				return nil, pandocore.New("NewRowTranscoder", "transcode", pandocore.KindConfigMismatch,
					fmt.Sprintf("prototype has an empty repeated field %q; its row width cannot be learned", fd.Name()))
			}
		}

		rt.fields = append(rt.fields, fieldSpec{fd: fd, kind: kind, arrayLen: arrayLen, offset: offset})
		offset += kind.size() * arrayLen
	}
	rt.rowBytes = offset
	return rt, nil
}

// RowBytes returns the fixed size, in bytes, of one serialized row.
func (rt *RowTranscoder) RowBytes() int { return rt.rowBytes }

// Serialize returns msg serialized as one new RowBytes-long row, per
// ProtobufH5TranscoderBase::Serialize + ProtobufH5RowTranscoder::
// ResizeDst.
func (rt *RowTranscoder) Serialize(msg proto.Message) ([]byte, error) {
	m := msg.ProtoReflect()
	if m.Descriptor().FullName() != rt.descriptor.FullName() {
		return nil, pandocore.New("Serialize", "transcode", pandocore.KindSchemaMismatch,
			"message descriptor does not match the transcoder's prototype")
	}

	row := make([]byte, rt.rowBytes)
	for _, fs := range rt.fields {
		if fs.fd.IsList() {
			list := m.Get(fs.fd).List()
			if list.Len() != fs.arrayLen {
				return nil, pandocore.New("Serialize", "transcode", pandocore.KindSchemaMismatch,
					fmt.Sprintf("field %q has %d elements, expected %d (seen in prototype)", fs.fd.Name(), list.Len(), fs.arrayLen))
			}
			elemSize := fs.kind.size()
			for i := 0; i < list.Len(); i++ {
				writeScalar(row[fs.offset+i*elemSize:], fs.kind, list.Get(i))
			}
			continue
		}
		writeScalar(row[fs.offset:], fs.kind, m.Get(fs.fd))
	}
	return row, nil
}

// ColTranscoder serializes one message into a variable-length run of
// rows, one row per element of its (equal-length) repeated fields.
// Grounded on ProtobufH5ColTranscoder, whose doc comment names this
// "meant to be used for logging time tags".
type ColTranscoder struct {
	descriptor protoreflect.MessageDescriptor
	fields     []fieldSpec
	rowBytes   int
}

// NewColTranscoder builds a ColTranscoder, requiring every field in
// prototype's message type to be repeated.
func NewColTranscoder(prototype proto.Message, overrides []FieldTypeOverride) (*ColTranscoder, error) {
	md := prototype.ProtoReflect().Descriptor()
	fields := md.Fields()

	ct := &ColTranscoder{descriptor: md}
	offset := 0
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !fd.IsList() {
			return nil, pandocore.New("NewColTranscoder", "transcode", pandocore.KindConfigMismatch,
				fmt.Sprintf("field %q is not repeated; ColTranscoder requires every field to be repeated", fd.Name()))
		}
		kind, err := resolveKind(fd, overrides)
		if err != nil {
			return nil, err
		}
		ct.fields = append(ct.fields, fieldSpec{fd: fd, kind: kind, arrayLen: 1, offset: offset})
		offset += kind.size()
	}
	ct.rowBytes = offset
	return ct, nil
}

// RowBytes returns the fixed size, in bytes, of one output row (one
// element across every field).
func (ct *ColTranscoder) RowBytes() int { return ct.rowBytes }

// Serialize returns n rows, n being the shared length of msg's
// repeated fields, each row holding the i'th element of every field.
// Grounded on ProtobufH5ColTranscoder::ResizeDst + CopyRepeatedFieldStrided.
func (ct *ColTranscoder) Serialize(msg proto.Message) ([]byte, error) {
	m := msg.ProtoReflect()
	if m.Descriptor().FullName() != ct.descriptor.FullName() {
		return nil, pandocore.New("Serialize", "transcode", pandocore.KindSchemaMismatch,
			"message descriptor does not match the transcoder's prototype")
	}
	if len(ct.fields) == 0 {
		return nil, nil
	}

	n := m.Get(ct.fields[0].fd).List().Len()
	buf := make([]byte, n*ct.rowBytes)
	for _, fs := range ct.fields {
		list := m.Get(fs.fd).List()
		if list.Len() != n {
			return nil, pandocore.New("Serialize", "transcode", pandocore.KindSchemaMismatch,
				fmt.Sprintf("field %q has %d elements, expected %d (all fields must share one length)", fs.fd.Name(), list.Len(), n))
		}
		for row := 0; row < n; row++ {
			writeScalar(buf[row*ct.rowBytes+fs.offset:], fs.kind, list.Get(row))
		}
	}
	return buf, nil
}

// writeScalar writes v, narrowed to kind, into the first bytes of buf.
func writeScalar(buf []byte, kind FieldKind, v protoreflect.Value) {
	switch kind {
	case KindInt8:
		buf[0] = byte(int8(v.Int()))
	case KindInt16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(v.Int())))
	case KindInt32:
		if e, ok := v.Interface().(protoreflect.EnumNumber); ok {
			binary.LittleEndian.PutUint32(buf, uint32(int32(e)))
			return
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(v.Int())))
	case KindInt64:
		binary.LittleEndian.PutUint64(buf, uint64(v.Int()))
	case KindUint8:
		buf[0] = byte(uint8(v.Uint()))
	case KindUint16:
		binary.LittleEndian.PutUint16(buf, uint16(v.Uint()))
	case KindUint32:
		binary.LittleEndian.PutUint32(buf, uint32(v.Uint()))
	case KindUint64:
		binary.LittleEndian.PutUint64(buf, v.Uint())
	case KindFloat32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v.Float())))
	case KindFloat64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Float()))
	}
}
