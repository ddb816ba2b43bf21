package dma

import "unsafe"

// fakeAxiDma builds an AxiDma whose register bank and reserved memory
// are plain heap-allocated buffers instead of real mmap'd hardware, so
// the descriptor/register bit-manipulation logic can be exercised
// without a UIO device or /dev/mem access.
func fakeAxiDma() *AxiDma {
	registers := make([]byte, 0x60) // mm2s + s2mm channel blocks
	reserved := make([]byte, memLen)

	a := &AxiDma{
		registers:        unsafe.Pointer(&registers[0]),
		reserved:         reserved,
		buffer:           reserved[bufferOffset:],
		waitForInterrupt: func(timeoutMs int) (uint32, error) { return 1, nil },
	}
	for i := 0; i < MaxDescriptors; i++ {
		offset := i * descriptorSize
		a.descriptors[i] = descriptor{
			regs:       descriptorRegs{base: unsafe.Pointer(&reserved[offset])},
			rawAddress: uint32(memBase + offset),
			next:       -1,
		}
	}
	return a
}
