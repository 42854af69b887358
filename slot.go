package appfs

import "fmt"

// findActiveSlot reads both metadata slots from flash and selects the
// authoritative one: among CRC-valid slots, the one with the strictly
// greater serial wins; if exactly one slot is valid, it is selected
// regardless of serial. Returns ok=false if neither slot validates.
func findActiveSlot(flash Flash) (active int, h header, descs [DescriptorsPerSlot - 1]descriptor, ok bool) {
	var (
		slotHdr   [numSlots]header
		slotDescs [numSlots][DescriptorsPerSlot - 1]descriptor
		slotValid [numSlots]bool
	)

	for i := range numSlots {
		buf, err := flash.Read(int64(i*MetaSlotSize), MetaSlotSize)
		if err != nil {
			continue
		}

		h, d, valid := validateSlot(buf)
		slotHdr[i], slotDescs[i], slotValid[i] = h, d, valid
	}

	switch {
	case slotValid[0] && slotValid[1]:
		if slotHdr[1].Serial > slotHdr[0].Serial {
			return 1, slotHdr[1], slotDescs[1], true
		}

		return 0, slotHdr[0], slotDescs[0], true
	case slotValid[0]:
		return 0, slotHdr[0], slotDescs[0], true
	case slotValid[1]:
		return 1, slotHdr[1], slotDescs[1], true
	default:
		return 0, header{}, [DescriptorsPerSlot - 1]descriptor{}, false
	}
}

// reinitialize erases the whole metadata page, marks every descriptor
// index at or beyond the partition's usable data-page count as
// ILLEGAL, and writes slot 0 as the sole authoritative slot with
// serial 0. It returns the fresh descriptors and commits them to
// flash.
func reinitialize(flash Flash, dataPageCount int) ([DescriptorsPerSlot - 1]descriptor, error) {
	if err := flash.Erase(0, PageSize); err != nil {
		return [DescriptorsPerSlot - 1]descriptor{}, wrapIoError("reinitialize: erase metadata page", err)
	}

	var descs [DescriptorsPerSlot - 1]descriptor
	for i := range descs {
		if i >= dataPageCount {
			d := emptyDescriptor
			d.Used = PageIllegal
			descs[i] = d
		} else {
			descs[i] = emptyDescriptor
		}
	}

	img := encodeSlot(0, descs[:])
	if err := flash.Write(0, img[:]); err != nil {
		return [DescriptorsPerSlot - 1]descriptor{}, wrapIoError("reinitialize: write slot 0", err)
	}

	return descs, nil
}

// commit writes newDescs to the inactive slot and, on success, flips
// fs.active and fs.descs to reflect it. This is the single path every
// mutation (create/delete/rename) goes through; it is the
// linearization point described in the component design: the header
// write in step 5 either lands before or after any power cut, and
// either way re-opening the partition finds a consistent state.
func (fs *Fs) commit(newDescs [DescriptorsPerSlot - 1]descriptor) error {
	newSlot := 1 - fs.active
	newSerial := fs.serial + 1

	slotOffset := int64(newSlot * MetaSlotSize)

	if err := fs.flash.Erase(slotOffset, MetaSlotSize); err != nil {
		return wrapIoError("commit: erase inactive slot", err)
	}

	descBuf := make([]byte, DescriptorSize)

	for j, d := range newDescs {
		encodeDescriptorInto(descBuf, d)

		if isAllFF(descBuf) {
			continue
		}

		off := slotOffset + int64((j+1)*DescriptorSize)
		if err := fs.flash.Write(off, descBuf); err != nil {
			return wrapIoError(fmt.Sprintf("commit: write descriptor %d", j+1), err)
		}
	}

	h := header{Magic: magic, Serial: newSerial}
	h.CRC32 = computeCRC(h, newDescs[:])

	hdrBuf := make([]byte, DescriptorSize)
	encodeHeaderInto(hdrBuf, h)

	if err := fs.flash.Write(slotOffset, hdrBuf); err != nil {
		return wrapIoError("commit: write header", err)
	}

	fs.active = newSlot
	fs.serial = newSerial
	fs.descs = newDescs

	return nil
}
