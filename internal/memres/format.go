package memres

import (
	"fmt"
	"unsafe"
)

// hexDump formats block 16 bytes per line, each line led by the
// address of its first byte, to standard output.
func hexDump(block []byte) {
	base := uintptr(unsafe.Pointer(&block[0]))

	for i := 0; i < len(block); i += 16 {
		end := i + 16
		if end > len(block) {
			end = len(block)
		}

		fmt.Printf("%p:\t", unsafe.Pointer(base+uintptr(i)))

		for j := i; j < end; j++ {
			fmt.Printf("%02x ", block[j])
		}

		fmt.Printf("\n")
	}
}

// diagnoseDeallocate prints the full corruption report for a failed
// Deallocate call: specific error lines, the header bytes, and up to
// 64 bytes of the payload. hdr and block may describe a block whose
// header has already failed magic/owner validation; this function only
// reads header, never anything the header points to.
func (r *Resource) diagnoseDeallocate(
	payload unsafe.Pointer,
	hdr *rawHeader,
	reqBytes, reqAlignment int,
	underrunBy, overrunBy int,
	paramMismatch, ownerMismatch bool,
) {
	switch hdr.magic {
	case magicDeallocated:
		fmt.Printf("*** Deallocating previously deallocated memory at %p. ***\n", payload)
	case magicAllocated:
		if overrunBy == 0 && underrunBy == 0 && !paramMismatch && !ownerMismatch {
			break
		}

		if uint64(reqBytes) != hdr.size {
			fmt.Printf("*** Freeing segment at %p using wrong size (%d vs. %d). ***\n",
				payload, reqBytes, hdr.size)
		}

		if uint64(reqAlignment) != hdr.alignment {
			fmt.Printf("*** Freeing segment at %p using wrong alignment (%d vs. %d). ***\n",
				payload, reqAlignment, hdr.alignment)
		}

		if ownerMismatch {
			fmt.Printf("*** Freeing segment at %p from wrong allocator. ***\n", payload)
		}

		if underrunBy != 0 {
			fmt.Printf("*** Memory corrupted at %d bytes before %d byte segment at %p. ***\n",
				underrunBy, hdr.size, payload)
			fmt.Printf("Pad area before user segment:\n")
			hexDump(unsafe.Slice((*byte)(unsafe.Add(payload, -MaxAlign)), MaxAlign))
		}

		if overrunBy != 0 {
			fmt.Printf("*** Memory corrupted at %d bytes after %d byte segment at %p. ***\n",
				overrunBy, hdr.size, payload)
			fmt.Printf("Pad area after user segment:\n")
			hexDump(unsafe.Slice((*byte)(unsafe.Add(payload, int(hdr.size))), MaxAlign))
		}
	default:
		fmt.Printf("*** Invalid magic number 0x%08x at address %p. ***\n", hdr.magic, payload)
	}

	fmt.Printf("Header:\n")
	hexDump(unsafe.Slice((*byte)(unsafe.Pointer(hdr)), headerSize))

	fmt.Printf("User segment:\n")

	payloadLen := reqBytes
	if hdr.magic == magicAllocated {
		payloadLen = int(hdr.size)
	}

	dumpLen := payloadLen
	if dumpLen > 64 {
		dumpLen = 64
	}

	if dumpLen > 0 {
		hexDump(unsafe.Slice((*byte)(payload), dumpLen))
	}
}

func pluralByte(n int) string {
	if n == 1 {
		return "byte "
	}

	return "bytes "
}
