// Package faultflash wraps an appfs.Flash with a power-cut simulator,
// used to exercise the atomicity property of the commit protocol
// (spec: a simulated power cut at any byte offset of the commit
// sequence must leave either the pre- or post-mutation filesystem
// state, never a hybrid).
//
// This is deliberately small and purpose-built for AppFs's
// page/byte-offset write pattern, rather than a general POSIX
// file-crash harness: AppFs only ever erases whole pages or metadata
// slots and writes
// small descriptor/header records, so the only fault worth modeling is
// "the device lost power after writing N of the total bytes issued
// across Erase/Write calls so far".
package faultflash

import (
	"errors"
	"fmt"

	"github.com/pocketsprite/appfs"
)

// ErrPowerCut is returned by every call to the wrapped Flash once the
// configured byte budget has been exhausted.
var ErrPowerCut = errors.New("faultflash: simulated power cut")

// Flash wraps an appfs.Flash, counting bytes written across Erase and
// Write calls. Once the running total reaches CutAfter, the call in
// progress is allowed to apply only the bytes up to the cut point (the
// remainder of that call's range is left untouched, simulating a
// device that stopped mid-write) and returns ErrPowerCut; every
// subsequent call also fails with ErrPowerCut without touching the
// underlying Flash, simulating the device staying off until the next
// open.
type Flash struct {
	appfs.Flash

	// CutAfter is the total byte count, summed across Erase length and
	// Write data length, after which the simulated power cut occurs. A
	// zero value disables cutting.
	CutAfter int64

	written int64
	cut     bool
}

// New wraps flash with a power cut scheduled after cutAfter bytes.
func New(flash appfs.Flash, cutAfter int64) *Flash {
	return &Flash{Flash: flash, CutAfter: cutAfter}
}

// BytesWritten reports the running total of bytes passed to Erase or
// Write so far (including any partially applied at the cut point).
func (f *Flash) BytesWritten() int64 {
	return f.written
}

// HasCut reports whether the power cut has already occurred.
func (f *Flash) HasCut() bool {
	return f.cut
}

func (f *Flash) budget(n int64) (allowed int64, cutNow bool) {
	if f.CutAfter <= 0 {
		return n, false
	}

	remaining := f.CutAfter - f.written
	if remaining <= 0 {
		return 0, true
	}

	if remaining >= n {
		return n, false
	}

	return remaining, true
}

// Erase has no partial-application path: real NOR page erase is an
// indivisible hardware operation, so a power cut either lands before
// the erase starts (the page is untouched) or the erase has already
// fully completed by the time the cut is observed. The byte budget is
// still charged so a cut point can be scheduled to land exactly on an
// erase boundary.
func (f *Flash) Erase(offset, length int64) error {
	if f.cut {
		return ErrPowerCut
	}

	allowed, cutNow := f.budget(length)

	if allowed >= length {
		f.written += length

		if err := f.Flash.Erase(offset, length); err != nil {
			return fmt.Errorf("faultflash: erase: %w", err)
		}

		if cutNow {
			f.cut = true

			return ErrPowerCut
		}

		return nil
	}

	f.written += allowed
	f.cut = true

	return ErrPowerCut
}

func (f *Flash) Write(offset int64, data []byte) error {
	if f.cut {
		return ErrPowerCut
	}

	allowed, cutNow := f.budget(int64(len(data)))
	f.written += allowed

	if allowed > 0 {
		if err := f.Flash.Write(offset, data[:allowed]); err != nil {
			return fmt.Errorf("faultflash: write: %w", err)
		}
	}

	if cutNow {
		f.cut = true

		return ErrPowerCut
	}

	return nil
}
