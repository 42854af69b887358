package appfsio

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pocketsprite/appfs"
)

func TestFile_CreateFile_PreErasesToAllFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	f, err := CreateFile(path, 2*appfs.PageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer f.Close()

	got, err := f.Read(0, 2*appfs.PageSize)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := make([]byte, 2*appfs.PageSize)
	for i := range want {
		want[i] = 0xFF
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pre-erased image mismatch (-want +got):\n%s", diff)
	}
}

func TestFile_WriteOnlyClearsBits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	f, err := CreateFile(path, appfs.PageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer f.Close()

	if err := f.Write(0, []byte{0b1111_0000}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Write(0, []byte{0b0101_0101}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := f.Read(0, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got[0] != 0b0101_0000 {
		t.Fatalf("got=%#b, want=%#b", got[0], 0b0101_0000)
	}
}

func TestFile_EraseResetsToAllFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	f, err := CreateFile(path, appfs.PageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer f.Close()

	if err := f.Write(0, []byte{0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Erase(0, appfs.PageSize); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	got, err := f.Read(0, appfs.PageSize)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := make([]byte, appfs.PageSize)
	for i := range want {
		want[i] = 0xFF
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("erased page mismatch (-want +got):\n%s", diff)
	}
}

func TestFile_OpenFile_RoundTripsAcrossClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	f, err := CreateFile(path, appfs.PageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := f.Write(0, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer reopened.Close()

	if got, want := reopened.Size(), int64(appfs.PageSize); got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}

	got, err := reopened.Read(0, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("Read=%q, want=%q", got, "hello")
	}
}

func TestFile_MmapPagesAssemblesNonContiguousPagesViaRealMmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	f, err := CreateFile(path, 3*appfs.PageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer f.Close()

	if err := f.Write(0, []byte{0xAA}); err != nil {
		t.Fatalf("Write page 0: %v", err)
	}

	if err := f.Write(2*appfs.PageSize, []byte{0xBB}); err != nil {
		t.Fatalf("Write page 2: %v", err)
	}

	h, ptr, err := f.MmapPages([]int{2, 0})
	if err != nil {
		t.Fatalf("MmapPages: %v", err)
	}

	if got, want := ptr[0], byte(0xBB); got != want {
		t.Fatalf("ptr[0]=%#x, want=%#x (page 2 first)", got, want)
	}

	if got, want := ptr[appfs.PageSize], byte(0xAA); got != want {
		t.Fatalf("ptr[PageSize]=%#x, want=%#x (page 0 second)", got, want)
	}

	if err := f.Munmap(h); err != nil {
		t.Fatalf("Munmap: %v", err)
	}
}

func TestFile_MmapPages_RejectsEmptyPageList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	f, err := CreateFile(path, appfs.PageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer f.Close()

	if _, _, err := f.MmapPages(nil); err == nil {
		t.Fatal("MmapPages(nil): expected error")
	}
}

func TestFile_Munmap_RejectsForeignHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	f, err := CreateFile(path, appfs.PageSize)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer f.Close()

	if err := f.Munmap("not-a-handle"); err == nil {
		t.Fatal("Munmap: expected error for foreign handle")
	}
}
