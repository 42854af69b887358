package appfsio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pocketsprite/appfs"
)

// File is a host-file-backed appfs.Flash implementation, used by the
// command-line tools to operate on a real appfs.img. Unlike Mem, its
// MmapPages returns a window allocated with the real mmap(2) syscall
// (through golang.org/x/sys/unix): an anonymous region into which the
// requested pages of the file are copied, not a mapping of the file.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens an existing image file as a Flash partition.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("appfsio: open %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("appfsio: stat %q: %w", path, err)
	}

	return &File{f: f, size: info.Size()}, nil
}

// CreateFile creates a new image file of the given size, pre-filled
// with 0xFF (erased), and opens it as a Flash partition. size must be
// a multiple of appfs.PageSize.
func CreateFile(path string, size int64) (*File, error) {
	if size%appfs.PageSize != 0 {
		return nil, fmt.Errorf("appfsio: size must be a multiple of PageSize, got %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("appfsio: create %q: %w", path, err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()

		return nil, fmt.Errorf("appfsio: truncate %q: %w", path, err)
	}

	chunk := make([]byte, appfs.PageSize)
	for i := range chunk {
		chunk[i] = 0xFF
	}

	for off := int64(0); off < size; off += appfs.PageSize {
		if _, err := f.WriteAt(chunk, off); err != nil {
			f.Close()

			return nil, fmt.Errorf("appfsio: pre-erase %q: %w", path, err)
		}
	}

	return &File{f: f, size: size}, nil
}

func (ff *File) Close() error {
	return ff.f.Close()
}

func (ff *File) checkRange(offset, length int64) error {
	if offset < 0 || length < 0 || offset+length > ff.size {
		return fmt.Errorf("%w: offset=%d length=%d size=%d", ErrOutOfRange, offset, length, ff.size)
	}

	return nil
}

func (ff *File) Erase(offset, length int64) error {
	if length%appfs.MetaSlotSize != 0 || offset%appfs.MetaSlotSize != 0 {
		return fmt.Errorf("appfsio: erase range must be slot-aligned: offset=%d length=%d", offset, length)
	}

	if err := ff.checkRange(offset, length); err != nil {
		return err
	}

	chunk := make([]byte, appfs.MetaSlotSize)
	for i := range chunk {
		chunk[i] = 0xFF
	}

	for off := offset; off < offset+length; off += appfs.MetaSlotSize {
		if _, err := ff.f.WriteAt(chunk, off); err != nil {
			return fmt.Errorf("appfsio: erase at %d: %w", off, err)
		}
	}

	return nil
}

// Write clears bits to match data: it reads the current content, ANDs
// it with data, and writes the result back, faithfully simulating NOR
// flash's "only clear bits" semantics on an ordinary host file.
func (ff *File) Write(offset int64, data []byte) error {
	if err := ff.checkRange(offset, int64(len(data))); err != nil {
		return err
	}

	current := make([]byte, len(data))
	if _, err := ff.f.ReadAt(current, offset); err != nil {
		return fmt.Errorf("appfsio: write read-modify at %d: %w", offset, err)
	}

	for i, b := range data {
		current[i] &= b
	}

	if _, err := ff.f.WriteAt(current, offset); err != nil {
		return fmt.Errorf("appfsio: write at %d: %w", offset, err)
	}

	return nil
}

func (ff *File) Read(offset, length int64) ([]byte, error) {
	if err := ff.checkRange(offset, length); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	if _, err := ff.f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("appfsio: read at %d: %w", offset, err)
	}

	return buf, nil
}

// fileMapping is the handle returned by MmapPages: the mmap'd region,
// needed to unmap it.
type fileMapping struct {
	region []byte
}

// MmapPages maps the requested, possibly non-contiguous, pages into
// one contiguous virtual window using mmap(2) over an anonymous region
// populated via pread, since POSIX mmap itself only maps contiguous
// file ranges. This mirrors the device's MMU remapping behavior (the
// requested pages need not be physically adjacent in the partition)
// while still exercising real virtual memory for the mapped window.
func (ff *File) MmapPages(pageIndices []int) (appfs.MmapHandle, []byte, error) {
	if len(pageIndices) == 0 {
		return nil, nil, fmt.Errorf("appfsio: mmap requires at least one page")
	}

	total := len(pageIndices) * appfs.PageSize

	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mmap: %w", appfs.ErrNoMmuSlot, err)
	}

	for i, idx := range pageIndices {
		off := int64(idx) * appfs.PageSize

		if err := ff.checkRange(off, appfs.PageSize); err != nil {
			unix.Munmap(region)

			return nil, nil, err
		}

		if _, err := ff.f.ReadAt(region[i*appfs.PageSize:(i+1)*appfs.PageSize], off); err != nil {
			unix.Munmap(region)

			return nil, nil, fmt.Errorf("appfsio: mmap populate page %d: %w", idx, err)
		}
	}

	return &fileMapping{region: region}, region, nil
}

func (ff *File) Munmap(h appfs.MmapHandle) error {
	m, ok := h.(*fileMapping)
	if !ok {
		return fmt.Errorf("appfsio: invalid mmap handle")
	}

	if err := unix.Munmap(m.region); err != nil {
		return fmt.Errorf("appfsio: munmap: %w", err)
	}

	return nil
}

func (ff *File) Size() int64 {
	return ff.size
}
