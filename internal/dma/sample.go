package dma

import "encoding/binary"

// Magic identifies the tagged union DMA'd into a descriptor's buffer
// by the FPGA sample box, mirroring pando_box_interface.h's
// sample_format::Magic.
type Magic uint32

const (
	MagicDigitalInput Magic = 0x53500000
	MagicImu          Magic = 0x53500001
	MagicAnalogInput  Magic = 0x53500002
	MagicTrafficGen   Magic = 0x53500003
)

// AdcChannel selects which analog peripheral an AnalogInput sample
// belongs to, keyed by the sample's DeviceID field.
type AdcChannel uint16

const (
	AdcPulseOx    AdcChannel = 0
	AdcHeartRate  AdcChannel = 1
	AdcRespBelt   AdcChannel = 2
	AdcPowerMeter AdcChannel = 3
)

// SampleTimePeriodNs is the number of nanoseconds per LSB of a
// Sample's Timestamp field.
const SampleTimePeriodNs = 10

// sampleHeaderSize is the fixed-size prefix common to every sample
// (type, size, timestamp, device_id), matching sample_format::PandoBox
// before its union payload.
const sampleHeaderSize = 4 + 4 + 8 + 2

// DigitalInData mirrors sample_format::DigitalIn.
type DigitalInData struct {
	Direction uint16
}

// ImuData mirrors sample_format::Imu.
type ImuData struct {
	Fsync                   uint16
	GyroX, GyroY, GyroZ     int16
	AccelX, AccelY, AccelZ  int16
}

// AnalogData mirrors sample_format::AnalogIn.
type AnalogData struct {
	Value uint16
}

// Sample mirrors sample_format::PandoBox, the tagged union DMA'd out
// of the descriptor ring.
type Sample struct {
	Type      Magic
	Size      uint32
	Timestamp uint64
	DeviceID  uint16

	Digital DigitalInData
	Imu     ImuData
	Analog  AnalogData
}

// TimestampNs converts the sample's raw tick timestamp to nanoseconds.
func (s *Sample) TimestampNs() int64 {
	return int64(s.Timestamp) * SampleTimePeriodNs
}

// decodeSample parses a raw little-endian descriptor payload into a
// Sample, dispatching the union payload on Type.
func decodeSample(raw []byte) *Sample {
	s := &Sample{
		Type:      Magic(binary.LittleEndian.Uint32(raw[0:4])),
		Size:      binary.LittleEndian.Uint32(raw[4:8]),
		Timestamp: binary.LittleEndian.Uint64(raw[8:16]),
		DeviceID:  binary.LittleEndian.Uint16(raw[16:18]),
	}
	payload := raw[sampleHeaderSize:]
	switch s.Type {
	case MagicDigitalInput:
		s.Digital.Direction = binary.LittleEndian.Uint16(payload[0:2])
	case MagicImu:
		s.Imu.Fsync = binary.LittleEndian.Uint16(payload[0:2])
		s.Imu.GyroX = int16(binary.LittleEndian.Uint16(payload[2:4]))
		s.Imu.GyroY = int16(binary.LittleEndian.Uint16(payload[4:6]))
		s.Imu.GyroZ = int16(binary.LittleEndian.Uint16(payload[6:8]))
		s.Imu.AccelX = int16(binary.LittleEndian.Uint16(payload[8:10]))
		s.Imu.AccelY = int16(binary.LittleEndian.Uint16(payload[10:12]))
		s.Imu.AccelZ = int16(binary.LittleEndian.Uint16(payload[12:14]))
	case MagicAnalogInput:
		s.Analog.Value = binary.LittleEndian.Uint16(payload[0:2])
	case MagicTrafficGen:
		// no payload fields beyond the reserved word in the original
	}
	return s
}
