package appfs

// dataPageOffset returns the absolute partition byte offset of data
// page pageIndex (1-based: the first data page is index 1, stored
// right after the metadata page).
func dataPageOffset(pageIndex int) int64 {
	return int64(pageIndex) * PageSize
}

// translate walks handle's chain floor(offset/PageSize) times and
// returns the page index holding byte offset plus the byte offset
// within that page.
func translate(descs [DescriptorsPerSlot - 1]descriptor, handle int, offset int64) (pageIndex int, pageOffset int64, err error) {
	steps := int(offset / PageSize)
	pageOffset = offset % PageSize

	idx := handle

	for range steps {
		d := descs[idx-1]
		if d.Next == 0 {
			return 0, 0, ErrInvalidSize
		}

		idx = int(d.Next)
	}

	return idx, pageOffset, nil
}

// validHandle reports whether handle resolves to a live file: a DATA
// page carrying a name.
func validHandle(descs [DescriptorsPerSlot - 1]descriptor, handle int) bool {
	if handle < 1 || handle > len(descs) {
		return false
	}

	d := descs[handle-1]

	return d.Used == PageData && hasName(d.Name)
}

// chainPages returns the absolute data-page indices covering
// [offset, offset+length) of handle's file, in chain order.
func chainPages(descs [DescriptorsPerSlot - 1]descriptor, handle int, offset, length int64) ([]int, int64, error) {
	if length <= 0 {
		return nil, 0, ErrInvalidSize
	}

	startIdx, pageOffset, err := translate(descs, handle, offset)
	if err != nil {
		return nil, 0, err
	}

	n := int((pageOffset+length+PageSize-1)/PageSize)

	pages := make([]int, 0, n)
	idx := startIdx

	for range n {
		pages = append(pages, idx)

		d := descs[idx-1]
		if d.Next == 0 {
			break
		}

		idx = int(d.Next)
	}

	if len(pages) < n {
		return nil, 0, ErrInvalidSize
	}

	return pages, pageOffset, nil
}

func fileSize(descs [DescriptorsPerSlot - 1]descriptor, handle int) uint32 {
	return descs[handle-1].Size
}

// Read copies length bytes starting at offset within handle's file.
func (fs *Fs) Read(handle int, offset, length int64) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return nil, err
	}

	if !validHandle(fs.descs, handle) {
		return nil, ErrNotFound
	}

	if offset < 0 || offset+length > int64(fileSize(fs.descs, handle)) {
		return nil, ErrInvalidSize
	}

	pages, pageOffset, err := chainPages(fs.descs, handle, offset, length)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	remaining := length
	first := true

	for _, pageIdx := range pages {
		start := int64(0)
		if first {
			start = pageOffset
			first = false
		}

		n := PageSize - start
		if int64(n) > remaining {
			n = remaining
		}

		buf, err := fs.flash.Read(dataPageOffset(pageIdx)+start, int64(n))
		if err != nil {
			return nil, wrapIoError("read", err)
		}

		out = append(out, buf...)
		remaining -= int64(n)
	}

	return out, nil
}

// Write clears bits in handle's file range [offset, offset+len(data))
// to match data. The caller is responsible for having erased the
// affected range first if any bit needs to go from 0 back to 1; a
// power cut mid-write can leave the range partially written, which is
// by design (spec: data is not guaranteed durable across power loss,
// only metadata is).
func (fs *Fs) Write(handle int, offset int64, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return err
	}

	if !validHandle(fs.descs, handle) {
		return ErrNotFound
	}

	length := int64(len(data))
	if length == 0 {
		return nil
	}

	if offset < 0 || offset+length > int64(fileSize(fs.descs, handle)) {
		return ErrInvalidSize
	}

	pages, pageOffset, err := chainPages(fs.descs, handle, offset, length)
	if err != nil {
		return err
	}

	written := int64(0)
	first := true

	for _, pageIdx := range pages {
		start := int64(0)
		if first {
			start = pageOffset
			first = false
		}

		n := PageSize - start
		if int64(n) > length-written {
			n = length - written
		}

		chunk := data[written : written+n]

		if err := fs.flash.Write(dataPageOffset(pageIdx)+start, chunk); err != nil {
			return wrapIoError("write", err)
		}

		written += n
	}

	return nil
}

// Erase clears length bytes (rounded up internally to whole pages
// within the file) starting at offset to all 0xFF. Partial-page erase
// is not supported: offset and length effectively snap to whole data
// pages of the file.
func (fs *Fs) Erase(handle int, offset, length int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return err
	}

	if !validHandle(fs.descs, handle) {
		return ErrNotFound
	}

	if length <= 0 || offset < 0 || offset+length > int64(fileSize(fs.descs, handle)) {
		return ErrInvalidSize
	}

	pages, _, err := chainPages(fs.descs, handle, offset, length)
	if err != nil {
		return err
	}

	for _, pageIdx := range pages {
		if err := fs.flash.Erase(dataPageOffset(pageIdx), PageSize); err != nil {
			return wrapIoError("erase", err)
		}
	}

	return nil
}

// Mmap walks handle's chain starting at offset, collecting the
// absolute partition-page indices needed to cover length bytes, and
// requests an MMU mapping for them. The returned pointer is offset by
// offset mod PageSize into the mapped region.
func (fs *Fs) Mmap(handle int, offset, length int64) (MmapHandle, []byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return nil, nil, err
	}

	if !validHandle(fs.descs, handle) {
		return nil, nil, ErrNotFound
	}

	if length <= 0 || offset < 0 || offset+length > int64(fileSize(fs.descs, handle)) {
		return nil, nil, ErrInvalidSize
	}

	pages, pageOffset, err := chainPages(fs.descs, handle, offset, length)
	if err != nil {
		return nil, nil, err
	}

	h, ptr, err := fs.flash.MmapPages(pages)
	if err != nil {
		return nil, nil, err
	}

	end := pageOffset + length
	if int64(len(ptr)) < end {
		return nil, nil, ErrNoMmuSlot
	}

	return h, ptr[pageOffset:end], nil
}
