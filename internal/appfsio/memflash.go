// Package appfsio provides Flash implementations for the appfs package:
// an in-memory one for tests and a host-file-backed one for the
// command-line tools.
package appfsio

import (
	"errors"
	"fmt"

	"github.com/pocketsprite/appfs"
)

// ErrOutOfRange is returned when an operation falls outside the
// partition.
var ErrOutOfRange = errors.New("appfsio: offset out of range")

// Mem is an in-memory appfs.Flash backed by a plain byte slice. It
// never fails on its own; wrap it with a fault injector (see
// internal/faultflash) to exercise error paths and crash scenarios.
type Mem struct {
	buf []byte
}

// NewMem returns a Mem of the given size, pre-erased (all 0xFF). size
// must be a multiple of appfs.PageSize.
func NewMem(size int64) *Mem {
	if size%appfs.PageSize != 0 {
		panic("appfsio: size must be a multiple of PageSize")
	}

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}

	return &Mem{buf: buf}
}

// NewMemFromImage wraps an existing image buffer (for example one read
// from disk) as a Mem without copying ownership semantics: the slice is
// used directly.
func NewMemFromImage(buf []byte) *Mem {
	return &Mem{buf: buf}
}

func (m *Mem) checkRange(offset, length int64) error {
	if offset < 0 || length < 0 || offset+length > int64(len(m.buf)) {
		return fmt.Errorf("%w: offset=%d length=%d size=%d", ErrOutOfRange, offset, length, len(m.buf))
	}

	return nil
}

func (m *Mem) Erase(offset, length int64) error {
	if length%appfs.MetaSlotSize != 0 || offset%appfs.MetaSlotSize != 0 {
		return fmt.Errorf("appfsio: erase range must be slot-aligned: offset=%d length=%d", offset, length)
	}

	if err := m.checkRange(offset, length); err != nil {
		return err
	}

	for i := offset; i < offset+length; i++ {
		m.buf[i] = 0xFF
	}

	return nil
}

func (m *Mem) Write(offset int64, data []byte) error {
	if err := m.checkRange(offset, int64(len(data))); err != nil {
		return err
	}

	for i, b := range data {
		m.buf[offset+int64(i)] &= b
	}

	return nil
}

func (m *Mem) Read(offset, length int64) ([]byte, error) {
	if err := m.checkRange(offset, length); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	copy(out, m.buf[offset:offset+length])

	return out, nil
}

// MmapPages assembles the requested pages into one contiguous buffer,
// simulating the MMU's page remapping (the requested pages need not be
// physically contiguous in the partition). No real MMU resources are
// involved, so it never fails with ErrNoMmuSlot. The returned handle is
// the Mem itself and Munmap is a no-op; writes to flash after mapping
// are not reflected in the previously returned slice.
func (m *Mem) MmapPages(pageIndices []int) (appfs.MmapHandle, []byte, error) {
	if len(pageIndices) == 0 {
		return nil, nil, fmt.Errorf("appfsio: mmap requires at least one page")
	}

	out := make([]byte, 0, len(pageIndices)*appfs.PageSize)

	for _, idx := range pageIndices {
		off := int64(idx) * appfs.PageSize

		if err := m.checkRange(off, appfs.PageSize); err != nil {
			return nil, nil, err
		}

		out = append(out, m.buf[off:off+appfs.PageSize]...)
	}

	return m, out, nil
}

func (m *Mem) Munmap(appfs.MmapHandle) error {
	return nil
}

func (m *Mem) Size() int64 {
	return int64(len(m.buf))
}

// Bytes returns the raw backing buffer. Callers must not retain it
// across concurrent mutation.
func (m *Mem) Bytes() []byte {
	return m.buf
}
