package dispatch

import (
	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/dma"
)

// ImuPayload mirrors proto::Packet::Payload::imu.
type ImuPayload struct {
	Fsync                  uint16
	GyroX, GyroY, GyroZ    int16
	AccelX, AccelY, AccelZ int16
}

// Imu consumes inertial-measurement-unit samples, grounded on
// peripherals/imu.cpp.
type Imu struct {
	*Base
}

// NewImu constructs the IMU peripheral worker, publishing on topic
// "pandoboxd.imu".
func NewImu(pub Publisher) *Imu {
	return &Imu{Base: newBase("imu", "pandoboxd.imu", pub)}
}

func (i *Imu) Configure(cfg *config.Config) error { return nil }

func (i *Imu) Start(experimentID int32) (SessionHandle, error) {
	return i.start(experimentID, i.run)
}

func (i *Imu) run() {
	for {
		sample := i.dequeue(1)
		if sample == nil {
			if i.ShouldStop() {
				return
			}
			continue
		}
		i.publish(ImuPayload{
			Fsync:  sample.Imu.Fsync,
			GyroX:  sample.Imu.GyroX,
			GyroY:  sample.Imu.GyroY,
			GyroZ:  sample.Imu.GyroZ,
			AccelX: sample.Imu.AccelX,
			AccelY: sample.Imu.AccelY,
			AccelZ: sample.Imu.AccelZ,
		}, sample.TimestampNs())
	}
}
