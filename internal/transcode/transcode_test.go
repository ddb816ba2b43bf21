package transcode

import (
	"encoding/binary"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/pando-labs/pandocore"
	"github.com/pando-labs/pandocore/internal/transcode/messages"
)

func setList(r protoreflect.Message, fieldName string, vals ...int32) {
	fd := r.Descriptor().Fields().ByName(protoreflect.Name(fieldName))
	list := r.Mutable(fd).List()
	for _, v := range vals {
		list.Append(protoreflect.ValueOfInt32(v))
	}
}

func samplePacket(deviceID uint32, sampleType int32, gyro, accel []int32) proto.Message {
	msg := messages.NewSamplePacket()
	r := msg.ProtoReflect()
	fields := r.Descriptor().Fields()

	r.Set(fields.ByName("timestamp_ticks_10ns"), protoreflect.ValueOfUint64(1000))
	r.Set(fields.ByName("device_id"), protoreflect.ValueOfUint32(deviceID))
	r.Set(fields.ByName("sample_type"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(sampleType)))
	r.Set(fields.ByName("digital_direction"), protoreflect.ValueOfUint32(1))
	r.Set(fields.ByName("analog_value"), protoreflect.ValueOfUint32(2048))
	setList(r, "imu_gyro", gyro...)
	setList(r, "imu_accel", accel...)
	return msg
}

func TestRowTranscoderSerializesSamplePacket(t *testing.T) {
	prototype := samplePacket(7, 1, []int32{1, 2, 3}, []int32{4, 5, 6})
	rt, err := NewRowTranscoder(prototype, nil)
	if err != nil {
		t.Fatalf("NewRowTranscoder: %v", err)
	}
	// 8 (u64) + 4 (u32) + 4 (enum->i32) + 4 (u32) + 4 (u32) + 3*4 (i32 array) + 3*4 (i32 array)
	if rt.RowBytes() != 48 {
		t.Fatalf("RowBytes = %d, want 48", rt.RowBytes())
	}

	row, err := rt.Serialize(samplePacket(9, 1, []int32{10, 20, 30}, []int32{40, 50, 60}))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(row) != 48 {
		t.Fatalf("row length = %d, want 48", len(row))
	}

	if got := binary.LittleEndian.Uint64(row[0:8]); got != 1000 {
		t.Errorf("timestamp = %d, want 1000", got)
	}
	if got := binary.LittleEndian.Uint32(row[8:12]); got != 9 {
		t.Errorf("device_id = %d, want 9", got)
	}
	if got := binary.LittleEndian.Uint32(row[24:28]); got != 10 {
		t.Errorf("first imu_gyro element = %d, want 10", got)
	}
}

func TestRowTranscoderRejectsEmptyPrototypeRepeatedField(t *testing.T) {
	prototype := samplePacket(1, 0, nil, nil)
	_, err := NewRowTranscoder(prototype, nil)
	if !pandocore.IsKind(err, pandocore.KindConfigMismatch) {
		t.Fatalf("err = %v, want KindConfigMismatch", err)
	}
}

func TestRowTranscoderHonorsAllowedOverride(t *testing.T) {
	prototype := samplePacket(1, 0, []int32{1}, []int32{1})
	rt, err := NewRowTranscoder(prototype, []FieldTypeOverride{{FieldName: "device_id", Kind: KindUint8}})
	if err != nil {
		t.Fatalf("NewRowTranscoder: %v", err)
	}
	// device_id now costs 1 byte instead of 4.
	if rt.RowBytes() != 8+1+4+4+4+4+4 {
		t.Fatalf("RowBytes = %d, want %d", rt.RowBytes(), 8+1+4+4+4+4+4)
	}
}

func TestRowTranscoderRejectsDisallowedOverride(t *testing.T) {
	prototype := samplePacket(1, 0, []int32{1}, []int32{1})
	_, err := NewRowTranscoder(prototype, []FieldTypeOverride{{FieldName: "timestamp_ticks_10ns", Kind: KindUint32}})
	if !pandocore.IsKind(err, pandocore.KindSchemaMismatch) {
		t.Fatalf("err = %v, want KindSchemaMismatch", err)
	}
}

func TestRowTranscoderRejectsMismatchedDescriptor(t *testing.T) {
	prototype := samplePacket(1, 0, []int32{1}, []int32{1})
	rt, err := NewRowTranscoder(prototype, nil)
	if err != nil {
		t.Fatalf("NewRowTranscoder: %v", err)
	}
	_, err = rt.Serialize(messages.NewCameraFramePacket())
	if !pandocore.IsKind(err, pandocore.KindSchemaMismatch) {
		t.Fatalf("err = %v, want KindSchemaMismatch", err)
	}
}

func timeTagPacket(macro, micro []uint64, channel []int32) proto.Message {
	msg := messages.NewTimeTagPacket()
	r := msg.ProtoReflect()
	// macro_time_ps and micro_time_ps are uint64 fields.
	for name, vals := range map[string][]uint64{"macro_time_ps": macro, "micro_time_ps": micro} {
		list := r.Mutable(r.Descriptor().Fields().ByName(protoreflect.Name(name))).List()
		for _, v := range vals {
			list.Append(protoreflect.ValueOfUint64(v))
		}
	}
	setList(r, "channel", channel...)
	return msg
}

func TestColTranscoderSerializesTimeTagPacket(t *testing.T) {
	ct, err := NewColTranscoder(messages.NewTimeTagPacket(), nil)
	if err != nil {
		t.Fatalf("NewColTranscoder: %v", err)
	}
	// 8 (u64) + 8 (u64) + 4 (i32) per row.
	if ct.RowBytes() != 20 {
		t.Fatalf("RowBytes = %d, want 20", ct.RowBytes())
	}

	buf, err := ct.Serialize(timeTagPacket([]uint64{1, 2, 3}, []uint64{4, 5, 6}, []int32{0, 1, 2}))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(buf) != 3*20 {
		t.Fatalf("buf length = %d, want %d", len(buf), 3*20)
	}
	if got := binary.LittleEndian.Uint64(buf[20 : 20+8]); got != 2 {
		t.Errorf("row 1 macro_time_ps = %d, want 2", got)
	}
	if got := int32(binary.LittleEndian.Uint32(buf[2*20+16 : 2*20+20])); got != 2 {
		t.Errorf("row 2 channel = %d, want 2", got)
	}
}

func TestColTranscoderRejectsMismatchedFieldLengths(t *testing.T) {
	ct, err := NewColTranscoder(messages.NewTimeTagPacket(), nil)
	if err != nil {
		t.Fatalf("NewColTranscoder: %v", err)
	}
	_, err = ct.Serialize(timeTagPacket([]uint64{1, 2, 3}, []uint64{4, 5}, []int32{0, 1, 2}))
	if !pandocore.IsKind(err, pandocore.KindSchemaMismatch) {
		t.Fatalf("err = %v, want KindSchemaMismatch", err)
	}
}

func TestNewColTranscoderRejectsNonRepeatedField(t *testing.T) {
	_, err := NewColTranscoder(messages.NewCameraFramePacket(), nil)
	if !pandocore.IsKind(err, pandocore.KindConfigMismatch) {
		t.Fatalf("err = %v, want KindConfigMismatch", err)
	}
}
