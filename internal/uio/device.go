// Package uio provides userspace access to a Linux UIO device: opening
// /dev/uioN, reading its mmap region size from sysfs, and waiting for
// hardware interrupts. Grounded on the original
// libpandobox/src/uio_device.{h,cpp} UioDevice base class.
//
// WaitForInterrupt is implemented against the io_uring-based
// internal/uring.Ring rather than a raw poll(2) + read(2) pair: the
// interrupt fd read is staged as an IORING_OP_READ the same way the
// DMA engine's descriptor-ack batching works, so a caller driving
// several UIO devices (DMA engine, plus any future peripheral using
// its own UIO IRQ) can eventually fold their waits onto one ring
// without changing this API.
package uio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	pandocore "github.com/pando-labs/pandocore"
	"github.com/pando-labs/pandocore/internal/uring"
)

// Device wraps an open /dev/uioN file descriptor.
type Device struct {
	fd      int
	memSize uintptr
	ring    uring.Ring
	mapped  []byte // set by Mmap, unmapped by Close
}

// Open opens /dev/uio<uioNumber> and reads its map0 size from sysfs.
func Open(uioNumber int) (*Device, error) {
	size, err := MemorySize(uioNumber)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/dev/uio%d", uioNumber)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, pandocore.NewWithErrno("Open", "uio", pandocore.KindHardwareFault, err.(unix.Errno))
	}

	ring, err := uring.NewRing(uring.Config{Entries: 4})
	if err != nil {
		unix.Close(fd)
		return nil, pandocore.Wrap("Open", "uio", err)
	}

	return &Device{fd: fd, memSize: size, ring: ring}, nil
}

// FD returns the underlying file descriptor, for mmap'ing the
// device's register region (map0 at offset 0).
func (d *Device) FD() int {
	return d.fd
}

// MemSize returns the size in bytes of the device's map0 region, as
// read from sysfs when the device was opened.
func (d *Device) MemSize() uintptr {
	return d.memSize
}

// Mmap maps the device's full map0 region read-write and returns its
// base address.
func (d *Device) Mmap() (unsafe.Pointer, error) {
	region, err := unix.Mmap(d.fd, 0, int(d.memSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, pandocore.NewWithErrno("Mmap", "uio", pandocore.KindHardwareFault, err.(unix.Errno))
	}
	d.mapped = region
	return unsafe.Pointer(&region[0]), nil
}

// Close unmaps the device's mapped region (if any), closes the UIO
// file descriptor, and its interrupt-wait ring.
func (d *Device) Close() error {
	if d.mapped != nil {
		unix.Munmap(d.mapped)
	}
	d.ring.Close()
	return unix.Close(d.fd)
}

// UnmaskInterrupt unmasks interrupts on this device. WaitForInterrupt
// calls this automatically after a successful wait; it is exposed
// separately for callers that need to unmask before ever waiting.
func (d *Device) UnmaskInterrupt() error {
	var buf [4]byte
	buf[0] = 1
	_, err := unix.Write(d.fd, buf[:])
	if err != nil {
		return pandocore.NewWithErrno("UnmaskInterrupt", "uio", pandocore.KindHardwareFault, err.(unix.Errno))
	}
	return nil
}

// WaitForInterrupt waits up to timeoutMs milliseconds (a negative
// value waits forever) for an interrupt. On timeout it returns
// (0, nil); otherwise it returns the interrupt count the kernel
// reports and re-unmasks the interrupt line, matching the original
// WaitForInterrupt's "interrupts are automatically unmasked after an
// interrupt is encountered" contract.
func (d *Device) WaitForInterrupt(timeoutMs int) (uint32, error) {
	buf := make([]byte, 4)
	if err := d.ring.PrepareRead(int32(d.fd), buf, 0); err != nil {
		return 0, pandocore.Wrap("WaitForInterrupt", "uio", err)
	}
	if _, err := d.ring.FlushSubmissions(); err != nil {
		return 0, pandocore.Wrap("WaitForInterrupt", "uio", err)
	}

	type waitOutcome struct {
		results []uring.Result
		err     error
	}
	ch := make(chan waitOutcome, 1)
	go func() {
		results, err := d.ring.WaitForCompletion(timeoutMs)
		ch <- waitOutcome{results, err}
	}()

	if timeoutMs < 0 {
		outcome := <-ch
		return d.finishWait(outcome.results, outcome.err)
	}

	select {
	case outcome := <-ch:
		return d.finishWait(outcome.results, outcome.err)
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return 0, nil
	}
}

func (d *Device) finishWait(results []uring.Result, err error) (uint32, error) {
	if err != nil {
		return 0, pandocore.NewWithErrno("WaitForInterrupt", "uio", pandocore.KindStall, unix.ETIMEDOUT)
	}
	if len(results) == 0 {
		return 0, nil
	}
	if resErr := results[0].Error(); resErr != nil {
		return 0, pandocore.Wrap("WaitForInterrupt", "uio", resErr)
	}

	irqCount := uint32(results[0].Value())
	if err := d.UnmaskInterrupt(); err != nil {
		return irqCount, err
	}
	return irqCount, nil
}

// MemorySize reads the map0 region size (in bytes) for uioN from
// /sys/class/uio/uioN/maps/map0/size, which sysfs exposes as a
// hex string.
func MemorySize(uioNumber int) (uintptr, error) {
	path := fmt.Sprintf("/sys/class/uio/uio%d/maps/map0/size", uioNumber)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, pandocore.Wrap("MemorySize", "uio", err)
	}
	text := strings.TrimSpace(strings.TrimPrefix(string(data), "0x"))
	size, err := strconv.ParseUint(text, 16, 64)
	if err != nil {
		return 0, pandocore.Wrap("MemorySize", "uio", err)
	}
	return uintptr(size), nil
}

var uioNameRe = regexp.MustCompile(`^uio([0-9]+)$`)

// FindByName finds the device number of the UIO device registered
// under devName (the string found at
// /sys/class/uio/uioN/name). If multiple devices share the name, the
// lowest device number is returned.
func FindByName(devName string) (int, error) {
	entries, err := os.ReadDir("/sys/class/uio")
	if err != nil {
		return 0, pandocore.Wrap("FindByName", "uio", err)
	}

	best := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := uioNameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		namePath := filepath.Join("/sys/class/uio", entry.Name(), "name")
		data, err := os.ReadFile(namePath)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) != devName {
			continue
		}
		if best == -1 || num < best {
			best = num
		}
	}

	if best == -1 {
		return 0, pandocore.New("FindByName", "uio", pandocore.KindHardwareFault,
			fmt.Sprintf("UIO device %q not found", devName))
	}
	return best, nil
}
