// Package messages defines the prototype messages the schema
// transcoder (C9) exercises: SamplePacket, TimeTagPacket, and
// CameraFramePacket. They stand in for the protoc-generated messages
// protobuf_h5_transcoder.h/.cpp is built to accept; since the Go
// toolchain is never invoked here (no protoc, no buf generate), the
// descriptor is instead built directly from a descriptorpb.
// FileDescriptorProto literal and turned into live protoreflect types
// with protodesc.NewFile + dynamicpb.NewMessage. The result is a real
// proto.Message with a working ProtoReflect() — everything the
// transcoder needs, without a generated .pb.go file.
package messages

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

func strp(s string) *string { return &s }
func i32p(i int32) *int32   { return &i }

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	return &descriptorpb.FieldDescriptorProto{
		Name:     strp(name),
		Number:   i32p(number),
		Label:    &label,
		Type:     &typ,
		JsonName: strp(name),
	}
}

func enumField(name string, number int32, enumTypeName string, repeated bool) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM, repeated)
	f.TypeName = strp(enumTypeName)
	return f
}

// fileDescriptorProto describes pandocore/packets.proto: one enum
// (SampleType) and the three packet messages, mirroring spec §6.1's
// sample frame layout, the time-tag record shape C5's window buffers
// accumulate, and the camera frame metadata C7's GrabLoop produces.
var fileDescriptorProto = &descriptorpb.FileDescriptorProto{
	Name:    strp("pandocore/packets.proto"),
	Package: strp("pandocore.packets"),
	Syntax:  strp("proto3"),
	EnumType: []*descriptorpb.EnumDescriptorProto{
		{
			Name: strp("SampleType"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: strp("DIGITAL"), Number: i32p(0)},
				{Name: strp("IMU"), Number: i32p(1)},
				{Name: strp("ANALOG"), Number: i32p(2)},
				{Name: strp("TRAFFICGEN"), Number: i32p(3)},
			},
		},
	},
	MessageType: []*descriptorpb.DescriptorProto{
		{
			// SamplePacket: one row per FPGA sample-box sample (spec
			// §6.1). imu_gyro/imu_accel are fixed-length (3) repeated
			// fields, exercising RowTranscoder's in-row array support.
			Name: strp("SamplePacket"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("timestamp_ticks_10ns", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64, false),
				field("device_id", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT32, false),
				enumField("sample_type", 3, ".pandocore.packets.SampleType", false),
				field("digital_direction", 4, descriptorpb.FieldDescriptorProto_TYPE_UINT32, false),
				field("analog_value", 5, descriptorpb.FieldDescriptorProto_TYPE_UINT32, false),
				field("imu_gyro", 6, descriptorpb.FieldDescriptorProto_TYPE_INT32, true),
				field("imu_accel", 7, descriptorpb.FieldDescriptorProto_TYPE_INT32, true),
			},
		},
		{
			// TimeTagPacket: every field is repeated across a window's
			// worth of tag events, the shape ProtobufH5ColTranscoder's
			// doc comment calls out as its reason for existing.
			Name: strp("TimeTagPacket"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("macro_time_ps", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64, true),
				field("micro_time_ps", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT64, true),
				field("channel", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32, true),
			},
		},
		{
			// CameraFramePacket: one row per grabbed frame; roi is a
			// fixed-length (4: x, y, w, h) repeated field.
			Name: strp("CameraFramePacket"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("sequence_number", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64, false),
				field("timestamp_ns", 2, descriptorpb.FieldDescriptorProto_TYPE_INT64, false),
				field("exposure_us", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32, false),
				field("width", 4, descriptorpb.FieldDescriptorProto_TYPE_INT32, false),
				field("height", 5, descriptorpb.FieldDescriptorProto_TYPE_INT32, false),
				field("roi", 6, descriptorpb.FieldDescriptorProto_TYPE_INT32, true),
			},
		},
	},
}

var fileDescriptor protoreflect.FileDescriptor

func init() {
	fd, err := protodesc.NewFile(fileDescriptorProto, nil)
	if err != nil {
		panic("messages: building pandocore/packets.proto descriptor: " + err.Error())
	}
	fileDescriptor = fd
}

func descriptorFor(name string) protoreflect.MessageDescriptor {
	md := fileDescriptor.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic("messages: no message named " + name)
	}
	return md
}

// NewSamplePacket returns a zero-valued SamplePacket.
func NewSamplePacket() proto.Message { return dynamicpb.NewMessage(descriptorFor("SamplePacket")) }

// NewTimeTagPacket returns a zero-valued TimeTagPacket.
func NewTimeTagPacket() proto.Message { return dynamicpb.NewMessage(descriptorFor("TimeTagPacket")) }

// NewCameraFramePacket returns a zero-valued CameraFramePacket.
func NewCameraFramePacket() proto.Message {
	return dynamicpb.NewMessage(descriptorFor("CameraFramePacket"))
}
