package appfs

// firstPageOf scans the active descriptors for a DATA page carrying
// name, returning its index (1-based within the descriptor array, i.e.
// a valid handle) and whether it was found. Index 0 never denotes a
// data page; it is reserved as the "no next page" chain terminator.
func firstPageOf(descs [DescriptorsPerSlot - 1]descriptor, name string) (int, bool) {
	for i, d := range descs {
		if d.Used == PageData && hasName(d.Name) && nameString(d.Name) == name {
			return i + 1, true
		}
	}

	return 0, false
}

// deleteInto walks name's chain in working, if present, and sets every
// visited descriptor to the empty (all-0xFF) value. It is a no-op if
// name does not exist, matching the delete semantics in the component
// design: deleting a file that does not exist succeeds trivially.
func deleteInto(working *[DescriptorsPerSlot - 1]descriptor, name string) {
	handle, ok := firstPageOf(*working, name)
	if !ok {
		return
	}

	idx := handle

	for {
		d := working[idx-1]
		working[idx-1] = emptyDescriptor

		if d.Next == 0 {
			break
		}

		idx = int(d.Next)
	}
}

// freePageIndices returns the 1-based indices of every descriptor in
// working that is FREE, in ascending order.
func freePageIndices(working [DescriptorsPerSlot - 1]descriptor) []int {
	free := make([]int, 0, len(working))

	for i, d := range working {
		if d.Used == PageFree {
			free = append(free, i+1)
		}
	}

	return free
}

// createInto deletes any existing file named name from working (without
// committing), allocates the smallest number of ascending free pages
// that can hold size bytes, and threads them into a chain anchored at
// the lowest allocated index. It returns the handle (the anchor index)
// or ErrNoSpace if too few free pages remain in working after the
// delete.
func createInto(working *[DescriptorsPerSlot - 1]descriptor, name string, size uint32) (int, error) {
	deleteInto(working, name)

	need := int((int64(size) + PageSize - 1) / PageSize)
	if need < 1 {
		need = 1
	}

	free := freePageIndices(*working)
	if len(free) < need {
		return 0, ErrNoSpace
	}

	pages := free[:need]

	for i, idx := range pages {
		d := descriptor{Used: PageData}

		for j := range d.Name {
			d.Name[j] = 0xFF
		}

		d.Size = 0xFFFFFFFF

		if i == 0 {
			d.Name = nameBytes(name)
			d.Size = size
		}

		if i == len(pages)-1 {
			d.Next = 0
		} else {
			d.Next = uint8(pages[i+1])
		}

		working[idx-1] = d
	}

	return pages[0], nil
}

// renameInto overwrites the name field of handle's first descriptor
// with newName, in working, without committing. Caller has already
// verified newName is free and handle resolves to a live file.
func renameInto(working *[DescriptorsPerSlot - 1]descriptor, handle int, newName string) {
	d := working[handle-1]
	d.Name = nameBytes(newName)
	working[handle-1] = d
}

// countFree returns the number of FREE descriptors in descs.
func countFree(descs [DescriptorsPerSlot - 1]descriptor) int {
	n := 0

	for _, d := range descs {
		if d.Used == PageFree {
			n++
		}
	}

	return n
}
