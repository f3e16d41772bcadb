package vcpu

// wordAccessBytes is the only legal MMIO transfer width.
const wordAccessBytes = 2

// Memory is the flat 64 KiB byte-addressed architectural address space.
// Unlike the teacher's Memory, which layers a dynamic protected-region
// list and mapped MMIORegion closures over a word array, this is a plain
// byte array guarded by the fixed region policy in memmap.go — the memory
// map here never changes shape at runtime.
type Memory struct {
	bytes [0x10000]byte
}

// Bytes exposes the backing store directly for snapshot export/import and
// ROM loading. Callers must respect the fixed region policy themselves.
func (m *Memory) Bytes() []byte {
	return m.bytes[:]
}

// validateFetchAccess reports whether addr may be fetched as an
// instruction word. Legal only from ROM/RAM.
func validateFetchAccess(addr uint16) FaultCode {
	switch decodeRegion(addr) {
	case RegionROM, RegionRAM:
		return FaultNone
	default:
		return FaultNonExecutableFetch
	}
}

// validateWriteAccess reports whether addr may be written by a data
// store. Legal only to RAM/MMIO.
func validateWriteAccess(addr uint16) FaultCode {
	switch decodeRegion(addr) {
	case RegionRAM, RegionMMIO:
		return FaultNone
	default:
		return FaultIllegalMemoryAccess
	}
}

// validateWordAlignment reports whether addr is a legal 16-bit-aligned
// data address.
func validateWordAlignment(addr uint16) FaultCode {
	if addr&1 == 0 {
		return FaultNone
	}
	return FaultUnalignedDataAccess
}

// validateMMIOAlignment is the MMIO-specific alignment check; it is
// distinct from validateWordAlignment only in which fault code it reports.
func validateMMIOAlignment(addr uint16) FaultCode {
	if addr&1 == 0 {
		return FaultNone
	}
	return FaultMmioAlignmentViolation
}

// fetchWord reads the instruction word at addr after checking fetch
// legality. Alignment is not checked: an instruction fetch may start at
// an odd address, unlike a 16-bit data access.
func (m *Memory) fetchWord(addr uint16) (uint16, FaultCode) {
	if fault := validateFetchAccess(addr); fault != FaultNone {
		return 0, fault
	}
	return readWordBE(m.bytes[:], addr), FaultNone
}

// readDataWord reads a 16-bit data value from RAM/ROM/DIAG. MMIO reads do
// not go through Memory at all — they are dispatched to the mmio.Bus by
// the execute pipeline. Reserved-region reads fault exactly like Reserved
// writes, since no read-specific policy exists beyond the fetch/write
// split (see DESIGN.md Open Question 3).
func (m *Memory) readDataWord(addr uint16) (uint16, FaultCode) {
	if fault := validateWordAlignment(addr); fault != FaultNone {
		return 0, fault
	}
	if decodeRegion(addr) == RegionReserved {
		return 0, FaultIllegalMemoryAccess
	}
	return readWordBE(m.bytes[:], addr), FaultNone
}

// writeDataWord writes a 16-bit data value to RAM. MMIO writes are
// dispatched to the mmio.Bus by the execute pipeline rather than through
// this method.
func (m *Memory) writeDataWord(addr uint16, value uint16) FaultCode {
	if fault := validateWordAlignment(addr); fault != FaultNone {
		return fault
	}
	if fault := validateWriteAccess(addr); fault != FaultNone {
		return fault
	}
	writeWordBE(m.bytes[:], addr, value)
	return FaultNone
}

// LoadROM copies image into the ROM region starting at 0x0000. It returns
// an error if image does not fit within ROMEnd+1 bytes, generalizing the
// teacher's loader.go bounds check to the fixed ROM window instead of
// total RAM size.
func (m *Memory) LoadROM(image []byte) error {
	if len(image) > ROMEnd+1 {
		return &ROMSizeError{Size: len(image), Max: ROMEnd + 1}
	}
	copy(m.bytes[ROMStart:], image)
	return nil
}

// ROMSizeError is returned by LoadROM when the supplied image does not fit
// in the fixed ROM region.
type ROMSizeError struct {
	Size int
	Max  int
}

func (e *ROMSizeError) Error() string {
	return "vcpu: ROM image too large"
}
