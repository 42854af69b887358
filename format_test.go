package appfs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeSlot_RoundTrips(t *testing.T) {
	descs := [DescriptorsPerSlot - 1]descriptor{}
	for i := range descs {
		descs[i] = emptyDescriptor
	}

	descs[0] = descriptor{Name: nameBytes("hello"), Size: 100, Next: 2, Used: PageData}
	descs[1] = descriptor{Name: emptyDescriptor.Name, Size: 0xFFFFFFFF, Next: 0, Used: PageData}

	img := encodeSlot(7, descs[:])

	h, gotDescs, ok := validateSlot(img[:])
	if !ok {
		t.Fatalf("validateSlot: expected valid slot")
	}

	if got, want := h.Serial, uint32(7); got != want {
		t.Fatalf("serial=%d, want=%d", got, want)
	}

	if diff := cmp.Diff(descs, gotDescs); diff != "" {
		t.Fatalf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateSlot_RejectsBadMagic(t *testing.T) {
	var descs [DescriptorsPerSlot - 1]descriptor
	for i := range descs {
		descs[i] = emptyDescriptor
	}

	img := encodeSlot(1, descs[:])
	img[0] ^= 0xFF // corrupt magic

	if _, _, ok := validateSlot(img[:]); ok {
		t.Fatal("validateSlot: expected invalid slot after corrupting magic")
	}
}

func TestValidateSlot_RejectsBadCRC(t *testing.T) {
	var descs [DescriptorsPerSlot - 1]descriptor
	for i := range descs {
		descs[i] = emptyDescriptor
	}

	img := encodeSlot(1, descs[:])
	img[DescriptorSize] ^= 0xFF // corrupt first descriptor after the header

	if _, _, ok := validateSlot(img[:]); ok {
		t.Fatal("validateSlot: expected invalid slot after corrupting a descriptor")
	}
}

func TestNameBytes_RoundTrips(t *testing.T) {
	tests := []string{"a", "hello", "big.bin", "almost-112-chars-but-not-quite-there-yet-so-it-should-still-fit-within-the-field"}

	for _, name := range tests {
		b := nameBytes(name)

		if got, want := nameString(b), name; got != want {
			t.Errorf("name=%q: roundtrip=%q, want=%q", name, got, want)
		}

		if !hasName(b) {
			t.Errorf("name=%q: hasName=false, want=true", name)
		}
	}
}

func TestHasName_AbsentForAllFF(t *testing.T) {
	if hasName(emptyDescriptor.Name) {
		t.Fatal("hasName: expected false for all-0xFF name field")
	}
}

func TestIsAllFF(t *testing.T) {
	buf := make([]byte, DescriptorSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	if !isAllFF(buf) {
		t.Fatal("isAllFF: expected true for all-0xFF buffer")
	}

	buf[10] = 0x00

	if isAllFF(buf) {
		t.Fatal("isAllFF: expected false after clearing a byte")
	}
}
