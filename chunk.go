package heapcore

import "unsafe"

// chunkMagic marks a header as produced by this engine's chunk path (as
// opposed to the XL path, or a pointer this heap never produced at all).
const chunkMagic uint32 = 0xC8A11C00

// chunkHeader is the 16-byte provenance header that sits immediately
// before every chunk-path user pointer. The spec's reference layout is
// {owner_page, slot_index, magic}; a live Go pointer cannot be hidden
// inside OS-mapped memory the garbage collector never scans (it would
// become a dangling reference the moment nothing else roots the Page), so
// owner_page is represented here as a stable (segmentIndex, pageIndex)
// pair instead — the "arena-and-index" substitution the spec's design
// notes call for. See DESIGN.md.
type chunkHeader struct {
	magic      uint32
	segmentIdx uint32
	pageIdx    uint32
	slotIndex  uint32
}

const chunkHeaderSize = unsafe.Sizeof(chunkHeader{}) // compile-time == 16

func headerAddr(userPtr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(userPtr, -int(chunkHeaderSize))
}

func userPtrFor(headerPtr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(headerPtr, int(chunkHeaderSize))
}

func headerAt(headerPtr unsafe.Pointer) *chunkHeader {
	return (*chunkHeader)(headerPtr)
}

// writeChunkHeader (re)writes the header for a freshly allocated slot. Per
// spec §4.2, header fields are written once at allocation and never
// modified while the chunk is live.
func writeChunkHeader(userPtr unsafe.Pointer, segIdx, pageIdx, slot uint32) {
	h := headerAt(headerAddr(userPtr))
	h.magic = chunkMagic
	h.segmentIdx = segIdx
	h.pageIdx = pageIdx
	h.slotIndex = slot
}

// rawChunkIndices reads a chunk header's location fields without
// checking magic. Used only by reclaimDeferred, where the pointer was
// already validated once by Free before Free stamped the header with
// chunkFreedMagic to make the slot double-free-detectable; re-checking
// magic here would reject every legitimately deferred free.
func rawChunkIndices(ptr unsafe.Pointer) (segmentIdx, pageIdx, slot uint32) {
	hdr := headerAt(headerAddr(ptr))
	return hdr.segmentIdx, hdr.pageIdx, hdr.slotIndex
}

// provenance is the outcome of validating a candidate user pointer's
// chunk header against the heap's current segment table.
type provenance struct {
	page *page
	slot uint32
}

// resolveChunk validates the 16 bytes preceding ptr per spec §4.2. Any
// mismatch (bad magic, out-of-range indices, slot/base arithmetic
// disagreement) returns ok=false so the caller can fall through to the XL
// table rather than trusting attacker- or corruption-controlled data.
func (h *Heap) resolveChunk(ptr unsafe.Pointer) (provenance, bool) {
	hdr := headerAt(headerAddr(ptr))
	if hdr.magic != chunkMagic {
		return provenance{}, false
	}

	h.segMu.RLock()
	if int(hdr.segmentIdx) >= len(h.segments) {
		h.segMu.RUnlock()
		return provenance{}, false
	}
	seg := h.segments[hdr.segmentIdx]
	h.segMu.RUnlock()
	if seg == nil || int(hdr.pageIdx) >= len(seg.pages) {
		return provenance{}, false
	}
	pg := &seg.pages[hdr.pageIdx]
	if !pg.initialized.Load() {
		return provenance{}, false
	}
	if hdr.slotIndex >= uint32(pg.capacity) {
		return provenance{}, false
	}
	if pg.slotBase(hdr.slotIndex) != headerAddr(ptr) {
		return provenance{}, false
	}
	return provenance{page: pg, slot: hdr.slotIndex}, true
}
