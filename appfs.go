// Package appfs implements a small, crash-safe flash filesystem whose
// files are always laid out as a contiguous run of fixed-size MMU
// pages, so any file can be memory-mapped as a single contiguous
// virtual range.
//
// The filesystem is a process-wide singleton over one partition,
// expressed here as an [Fs] value with an explicit lifecycle: call
// [Init] to open (or format) a partition through a [Flash]
// implementation, then call methods on the returned [*Fs]. All methods
// are safe for concurrent use; they serialize through an internal
// mutex, since the on-flash commit protocol has no notion of
// concurrent writers.
//
// Metadata survives power loss: every mutation is staged into a
// working copy of the descriptor table and only becomes visible at
// the single atomic write of a new header with its CRC (see [Fs]'s
// internal commit path in slot.go). File *data* written via [Fs.Write]
// carries no such guarantee.
package appfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Fs is the filesystem singleton. Use [Init] to construct one.
type Fs struct {
	mu sync.Mutex

	flash Flash

	dataPageCount int // usable data pages given the partition size
	active        int // 0 or 1: which metadata slot is authoritative
	serial        uint32
	descs         [DescriptorsPerSlot - 1]descriptor

	ready     bool
	lastError error // set when Init reinitialized after corruption
}

// Init opens flash as an AppFs partition. If neither metadata slot
// validates, the partition is reinitialized (all files are lost) and
// Init returns ErrCorrupt alongside a usable *Fs reflecting the fresh,
// empty partition: reinitialization is a distinguishable, non-fatal
// outcome, not a hidden one.
func Init(flash Flash) (*Fs, error) {
	if flash == nil {
		panic("appfs: flash is nil")
	}

	size := flash.Size()
	if size < PageSize {
		return nil, ErrPartitionTooSmall
	}

	dataPageCount := int(size/PageSize) - 1
	if dataPageCount > MaxPages {
		dataPageCount = MaxPages
	}

	fs := &Fs{flash: flash, dataPageCount: dataPageCount}

	active, h, descs, ok := findActiveSlot(flash)
	if ok {
		fs.active = active
		fs.serial = h.Serial
		fs.descs = descs
		fs.ready = true

		return fs, nil
	}

	descs, err := reinitialize(flash, dataPageCount)
	if err != nil {
		return nil, err
	}

	fs.active = 0
	fs.serial = 0
	fs.descs = descs
	fs.ready = true
	fs.lastError = ErrCorrupt

	return fs, ErrCorrupt
}

func (fs *Fs) checkReady() error {
	if !fs.ready {
		return ErrClosed
	}

	return nil
}

func validateName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}

	if len(name) > NameSize-1 {
		return ErrNameTooLong
	}

	return nil
}

// Exists reports whether a file named name is present.
func (fs *Fs) Exists(name string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return false, err
	}

	_, ok := firstPageOf(fs.descs, name)

	return ok, nil
}

// Open resolves name to a stable handle, the descriptor index of its
// first page. The handle stays valid until the file is deleted; a
// rename keeps the handle and changes the name it reports.
func (fs *Fs) Open(name string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return 0, err
	}

	handle, ok := firstPageOf(fs.descs, name)
	if !ok {
		return 0, ErrNotFound
	}

	return handle, nil
}

// Create allocates a new file of size bytes named name, replacing any
// existing file of the same name in one commit. Allocation always
// scans free pages in ascending index order, so a deterministic
// sequence of creates/deletes from an empty partition always produces
// the same page assignment.
func (fs *Fs) Create(name string, size uint32) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return 0, err
	}

	if err := validateName(name); err != nil {
		return 0, err
	}

	working := fs.descs

	handle, err := createInto(&working, name, size)
	if err != nil {
		return 0, err
	}

	if err := fs.commit(working); err != nil {
		return 0, err
	}

	return handle, nil
}

// Delete removes a file by name. Deleting a name that does not exist
// succeeds trivially.
func (fs *Fs) Delete(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return err
	}

	if _, ok := firstPageOf(fs.descs, name); !ok {
		return nil
	}

	working := fs.descs
	deleteInto(&working, name)

	return fs.commit(working)
}

// Rename changes a file's name in one commit. It fails with
// [ErrNotFound] if from does not exist and [ErrExists] if to already
// names a different file. Renaming a file to its current name succeeds
// and leaves the name unchanged, but still performs a commit.
func (fs *Fs) Rename(from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return err
	}

	if err := validateName(to); err != nil {
		return err
	}

	handle, ok := firstPageOf(fs.descs, from)
	if !ok {
		return ErrNotFound
	}

	if existing, ok := firstPageOf(fs.descs, to); ok && existing != handle {
		return ErrExists
	}

	working := fs.descs
	renameInto(&working, handle, to)

	return fs.commit(working)
}

// EntryInfo returns the name and size recorded for handle.
func (fs *Fs) EntryInfo(handle int) (name string, size uint32, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkReady(); err != nil {
		return "", 0, err
	}

	if !validHandle(fs.descs, handle) {
		return "", 0, ErrNotFound
	}

	d := fs.descs[handle-1]

	return nameString(d.Name), d.Size, nil
}

// NextEntry returns the next live file handle strictly greater than
// after (pass 0 to start iteration from the beginning), or ok=false
// when there are none.
func (fs *Fs) NextEntry(after int) (handle int, ok bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.checkReady() != nil {
		return 0, false
	}

	for i := after; i < len(fs.descs); i++ {
		d := fs.descs[i]
		if d.Used == PageData && hasName(d.Name) {
			return i + 1, true
		}
	}

	return 0, false
}

// FreeSpace returns the number of bytes currently unallocated.
func (fs *Fs) FreeSpace() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.checkReady() != nil {
		return 0
	}

	return int64(countFree(fs.descs)) * PageSize
}

// Dump renders a human-readable listing of every non-free descriptor
// plus a free/used page summary, for diagnostic tooling such as
// appfsctl's dump command.
func (fs *Fs) Dump() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var b strings.Builder

	used, illegal, free := 0, 0, 0

	type row struct {
		idx   int
		state string
		d     descriptor
	}

	rows := make([]row, 0, len(fs.descs))

	for i, d := range fs.descs {
		switch d.Used {
		case PageData:
			used++
			rows = append(rows, row{idx: i + 1, state: "DATA", d: d})
		case PageIllegal:
			illegal++
			rows = append(rows, row{idx: i + 1, state: "ILLEGAL", d: d})
		case PageFree:
			free++
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].idx < rows[j].idx })

	for _, r := range rows {
		fmt.Fprintf(&b, "%3d  %-7s  name=%-32q size=%-10d next=%d\n",
			r.idx, r.state, nameString(r.d.Name), r.d.Size, r.d.Next)
	}

	fmt.Fprintf(&b, "serial=%d active_slot=%d free=%d used=%d illegal=%d\n",
		fs.serial, fs.active, free, used, illegal)

	return b.String()
}
