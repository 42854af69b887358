package appfs_test

import (
	"errors"
	"testing"

	"github.com/pocketsprite/appfs"
	"github.com/pocketsprite/appfs/internal/appfsio"
	"github.com/pocketsprite/appfs/internal/faultflash"
)

// S6: a power cut anywhere during the next commit must leave the
// partition either in its pre-mutation or post-mutation state, never a
// hybrid.
func TestS6_PowerCutDuringCommit_NeverYieldsHybridState(t *testing.T) {
	mem := appfsio.NewMem(scenarioPartitionSize)
	fs := mustInit(t, mem)

	if _, err := fs.Create("big", 200000); err != nil {
		t.Fatalf("Create big: %v", err)
	}

	preImage := append([]byte(nil), mem.Bytes()...)

	// Probe the total bytes a successful commit writes by running it to
	// completion once against a disposable copy, then replay the
	// mutation against fresh copies of the pre-image with the cut
	// scheduled at every interesting offset.
	probeMem := appfsio.NewMemFromImage(append([]byte(nil), preImage...))
	probeFault := faultflash.New(probeMem, 0)
	probeFs := mustInit(t, probeFault)

	if _, err := probeFs.Create("other", appfs.PageSize); err != nil {
		t.Fatalf("probe Create: %v", err)
	}

	totalBytes := probeFault.BytesWritten()

	for cutAfter := int64(0); cutAfter <= totalBytes; cutAfter += 37 {
		trialMem := appfsio.NewMemFromImage(append([]byte(nil), preImage...))
		fault := faultflash.New(trialMem, cutAfter)

		fs, err := appfs.Init(fault)
		if err != nil {
			t.Fatalf("cutAfter=%d: re-Init pre-mutation: %v", cutAfter, err)
		}

		// A cut mid-commit is expected to surface as an error; both
		// outcomes (pre- or post-mutation state) are checked below by
		// re-opening the partition fresh.
		_, _ = fs.Create("other", appfs.PageSize)

		reopened, err := appfs.Init(trialMem)
		if err != nil && !errors.Is(err, appfs.ErrCorrupt) {
			t.Fatalf("cutAfter=%d: re-Init after cut: %v", cutAfter, err)
		}

		exists, err := reopened.Exists("other")
		if err != nil {
			t.Fatalf("cutAfter=%d: Exists: %v", cutAfter, err)
		}

		bigHandle, err := reopened.Open("big")
		if err != nil {
			t.Fatalf("cutAfter=%d: \"big\" must always survive: %v", cutAfter, err)
		}

		_, bigSize, err := reopened.EntryInfo(bigHandle)
		if err != nil {
			t.Fatalf("cutAfter=%d: EntryInfo(big): %v", cutAfter, err)
		}

		if got, want := bigSize, uint32(200000); got != want {
			t.Fatalf("cutAfter=%d: \"big\" size=%d, want=%d (must be unchanged)", cutAfter, got, want)
		}

		if exists {
			otherHandle, err := reopened.Open("other")
			if err != nil {
				t.Fatalf("cutAfter=%d: Open(other): %v", cutAfter, err)
			}

			_, otherSize, err := reopened.EntryInfo(otherHandle)
			if err != nil {
				t.Fatalf("cutAfter=%d: EntryInfo(other): %v", cutAfter, err)
			}

			if got, want := otherSize, uint32(appfs.PageSize); got != want {
				t.Fatalf("cutAfter=%d: \"other\" is visible but has wrong size=%d, want=%d", cutAfter, got, want)
			}
		}
	}
}

func TestFaultFlash_PartialWriteIsNotAppliedPastCutPoint(t *testing.T) {
	mem := appfsio.NewMem(appfs.PageSize)
	fault := faultflash.New(mem, 5)

	if err := fault.Write(0, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}); !errors.Is(err, faultflash.ErrPowerCut) {
		t.Fatalf("Write err=%v, want ErrPowerCut", err)
	}

	got, err := mem.Read(0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := []byte{0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}
