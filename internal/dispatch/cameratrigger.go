package dispatch

import (
	"github.com/pando-labs/pandocore/internal/config"
	"github.com/pando-labs/pandocore/internal/sbox"
)

// CameraFrameTrigger programs and arms the two hardware pulse
// generators (frame_trig_gen_0/1) that drive the external camera
// trigger, grounded on peripherals/camera_frame_trigger.cpp. Unlike
// every other peripheral it is not a sample-queue consumer: it
// configures the FPGA's trigger generator and has no Run loop of its
// own, matching the original's Run() returning immediately.
type CameraFrameTrigger struct {
	name string
	trig [2]sbox.TriggerBank
}

// NewCameraFrameTrigger constructs the camera frame trigger
// peripheral.
func NewCameraFrameTrigger(trig [2]sbox.TriggerBank) *CameraFrameTrigger {
	return &CameraFrameTrigger{name: "camera_frame_trigger", trig: trig}
}

// Configure programs both pulse generators' period/width registers
// from cfg's frame trigger period, with a 50% duty cycle (width =
// period/2), matching the original's hard-coded halving.
func (c *CameraFrameTrigger) Configure(cfg *config.Config) error {
	period := cfg.Camera.FrameTriggerPeriod10ns
	c.trig[0].SetPeriod(uint32(period))
	c.trig[0].SetWidth(uint32(period / 2))
	c.trig[1].SetPeriod(uint32(period))
	c.trig[1].SetWidth(uint32(period / 2))
	return nil
}

// Start arms both pulse generators and returns immediately; there is
// no consumer goroutine to join on Stop.
func (c *CameraFrameTrigger) Start(experimentID int32) (SessionHandle, error) {
	c.trig[0].SetEnabled(true)
	c.trig[1].SetEnabled(true)
	return SessionHandle{Name: c.name}, nil
}

// Stop disarms both pulse generators.
func (c *CameraFrameTrigger) Stop() {
	c.trig[0].SetEnabled(false)
	c.trig[1].SetEnabled(false)
}
