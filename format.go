package appfs

import (
	"encoding/binary"
	"hash/crc32"
)

// On-flash format constants, fixed by the wire format documented in the
// external interface section: one 64 KiB page holds two 32 KiB metadata
// slots, each slot holds 256 fixed-size descriptors.
const (
	// PageSize is the MMU page granule and the unit of flash erase.
	PageSize = 65536

	// MetaSlotSize is half a page; two slots fit in page 0.
	MetaSlotSize = PageSize / 2

	// DescriptorSize is the fixed size of both the header descriptor and
	// every page descriptor.
	DescriptorSize = 128

	// DescriptorsPerSlot is one header plus 255 page descriptors.
	DescriptorsPerSlot = MetaSlotSize / DescriptorSize

	// MaxPages is the number of addressable data pages; page 0 of the
	// partition is always the metadata page.
	MaxPages = DescriptorsPerSlot - 1

	// NameSize is the width of the name field in a page descriptor.
	NameSize = 112

	numSlots = 2
)

// magic identifies a valid metadata header.
var magic = [8]byte{'A', 'p', 'p', 'F', 's', 'D', 's', 'c'}

// Page states, stored in a descriptor's Used byte.
const (
	PageFree    byte = 0xFF
	PageData    byte = 0x00
	PageIllegal byte = 0x55
)

// Header field offsets within a metadata slot's first 128 bytes.
const (
	offMagic  = 0x00 // [8]byte
	offSerial = 0x08 // uint32
	offCRC32  = 0x0C // uint32
	// bytes 0x10..0x7F are reserved, fixed at 0xFF.
)

// Page descriptor field offsets within its 128-byte record.
const (
	offName = 0x00 // [112]byte, NUL-terminated, 0xFF-filled if absent
	offSize = 0x70 // uint32
	offNext = 0x74 // uint8
	offUsed = 0x75 // uint8
	// bytes 0x76..0x7F are reserved, fixed at 0xFF.
)

// header is the decoded form of a metadata slot's first descriptor.
type header struct {
	Magic  [8]byte
	Serial uint32
	CRC32  uint32
}

// descriptor is the decoded form of one page descriptor.
type descriptor struct {
	Name [NameSize]byte
	Size uint32
	Next uint8
	Used byte
}

// emptyDescriptor is an all-0xFF descriptor: a FREE page with no name.
var emptyDescriptor = func() descriptor {
	var d descriptor
	for i := range d.Name {
		d.Name[i] = 0xFF
	}

	d.Size = 0xFFFFFFFF
	d.Next = 0xFF
	d.Used = PageFree

	return d
}()

// crcTable is the standard reflected CRC-32 polynomial 0xEDB88320
// (zlib/Ethernet variant), matching the wire format exactly. This is
// deliberately crc32.IEEE, not crc32.Castagnoli: the two tables produce
// different checksums for identical input, and a mismatch here is the
// single most likely interoperability bug in this format.
var crcTable = crc32.MakeTable(crc32.IEEE)

// slotImage is a raw, fixed-size 32 KiB metadata slot buffer.
type slotImage [MetaSlotSize]byte

// decodeHeader parses the first 128 bytes of a slot image.
func decodeHeader(buf []byte) header {
	var h header

	copy(h.Magic[:], buf[offMagic:offMagic+len(h.Magic)])
	h.Serial = binary.LittleEndian.Uint32(buf[offSerial:])
	h.CRC32 = binary.LittleEndian.Uint32(buf[offCRC32:])

	return h
}

// encodeHeaderInto writes h into the first 128 bytes of buf, leaving the
// reserved bytes at 0xFF.
func encodeHeaderInto(buf []byte, h header) {
	for i := range DescriptorSize {
		buf[i] = 0xFF
	}

	copy(buf[offMagic:], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[offSerial:], h.Serial)
	binary.LittleEndian.PutUint32(buf[offCRC32:], h.CRC32)
}

// decodeDescriptor parses one 128-byte page descriptor record.
func decodeDescriptor(buf []byte) descriptor {
	var d descriptor

	copy(d.Name[:], buf[offName:offName+NameSize])
	d.Size = binary.LittleEndian.Uint32(buf[offSize:])
	d.Next = buf[offNext]
	d.Used = buf[offUsed]

	return d
}

// encodeDescriptorInto writes d into a 128-byte record, leaving the
// reserved bytes at 0xFF.
func encodeDescriptorInto(buf []byte, d descriptor) {
	for i := range DescriptorSize {
		buf[i] = 0xFF
	}

	copy(buf[offName:], d.Name[:])
	binary.LittleEndian.PutUint32(buf[offSize:], d.Size)
	buf[offNext] = d.Next
	buf[offUsed] = d.Used
}

// isAllFF reports whether every byte of a descriptor record is 0xFF,
// i.e. it carries no information and needs no write after an erase.
func isAllFF(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}

	return true
}

// decodeSlot parses a raw 32 KiB slot into a header and 255 descriptors.
func decodeSlot(buf []byte) (header, [DescriptorsPerSlot - 1]descriptor) {
	h := decodeHeader(buf[:DescriptorSize])

	var descs [DescriptorsPerSlot - 1]descriptor

	for i := range descs {
		off := (i + 1) * DescriptorSize
		descs[i] = decodeDescriptor(buf[off : off+DescriptorSize])
	}

	return h, descs
}

// computeCRC computes the slot CRC: the header (with its CRC field
// zeroed) followed by all 255 descriptors.
func computeCRC(h header, descs []descriptor) uint32 {
	buf := make([]byte, DescriptorSize)
	encodeHeaderInto(buf, header{Magic: h.Magic, Serial: h.Serial, CRC32: 0})

	crc := crc32.Update(0, crcTable, buf)

	descBuf := make([]byte, DescriptorSize)
	for _, d := range descs {
		encodeDescriptorInto(descBuf, d)
		crc = crc32.Update(crc, crcTable, descBuf)
	}

	return crc
}

// validateSlot reports whether buf holds a slot with matching magic and
// CRC, returning the decoded header and descriptors when it does.
func validateSlot(buf []byte) (header, [DescriptorsPerSlot - 1]descriptor, bool) {
	h, descs := decodeSlot(buf)

	if h.Magic != magic {
		return header{}, descs, false
	}

	if computeCRC(h, descs[:]) != h.CRC32 {
		return header{}, descs, false
	}

	return h, descs, true
}

// encodeSlot renders a full 32 KiB slot image from a header (serial is
// taken as given; CRC32 is computed and embedded) and 255 descriptors.
func encodeSlot(serial uint32, descs []descriptor) slotImage {
	var img slotImage

	h := header{Magic: magic, Serial: serial}
	h.CRC32 = computeCRC(h, descs)

	encodeHeaderInto(img[:DescriptorSize], h)

	for i, d := range descs {
		off := (i + 1) * DescriptorSize
		encodeDescriptorInto(img[off:off+DescriptorSize], d)
	}

	return img
}

// nameBytes converts a file name string into a fixed, NUL-terminated,
// 0xFF-padded-after-NUL name field. It panics if name does not fit;
// callers validate name length before reaching the codec.
func nameBytes(name string) [NameSize]byte {
	var out [NameSize]byte

	for i := range out {
		out[i] = 0xFF
	}

	copy(out[:], name)
	out[len(name)] = 0x00

	return out
}

// nameString decodes a fixed name field back into a Go string, stopping
// at the first NUL or 0xFF byte, whichever comes first.
func nameString(b [NameSize]byte) string {
	for i, c := range b {
		if c == 0x00 || c == 0xFF {
			return string(b[:i])
		}
	}

	return string(b[:])
}

// hasName reports whether a descriptor's name field carries an actual
// name rather than being all-0xFF (absent).
func hasName(b [NameSize]byte) bool {
	return b[0] != 0xFF
}
