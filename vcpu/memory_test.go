package vcpu

import "testing"

func TestDecodeRegionBoundaries(t *testing.T) {
	cases := []struct {
		addr uint16
		want Region
	}{
		{0x0000, RegionROM},
		{0x3FFF, RegionROM},
		{0x4000, RegionRAM},
		{0xDFFF, RegionRAM},
		{0xE000, RegionMMIO},
		{0xEFFF, RegionMMIO},
		{0xF000, RegionDiag},
		{0xF0FF, RegionDiag},
		{0xF100, RegionReserved},
		{0xFFFF, RegionReserved},
	}
	for _, tc := range cases {
		if got := decodeRegion(tc.addr); got != tc.want {
			t.Errorf("decodeRegion(%#04x) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestFetchAccessDeniedOutsideROMAndRAM(t *testing.T) {
	for _, addr := range []uint16{0xE000, 0xF000, 0xF100} {
		if fault := validateFetchAccess(addr); fault != FaultNonExecutableFetch {
			t.Errorf("validateFetchAccess(%#04x) = %v, want FaultNonExecutableFetch", addr, fault)
		}
	}
}

func TestReadWordWrapsAtTopOfAddressSpace(t *testing.T) {
	var m Memory
	m.bytes[0xFFFF] = 0xAB
	m.bytes[0x0000] = 0xCD
	got := readWordBE(m.bytes[:], 0xFFFF)
	want := uint16(0xABCD)
	if got != want {
		t.Errorf("readWordBE at top of address space = %#04x, want %#04x", got, want)
	}
}

func TestWriteDataWordRejectsReservedRegion(t *testing.T) {
	var m Memory
	if fault := m.writeDataWord(0xF100, 0x1234); fault != FaultIllegalMemoryAccess {
		t.Errorf("writeDataWord(0xF100) = %v, want FaultIllegalMemoryAccess", fault)
	}
}

func TestReadDataWordRejectsUnalignedAddress(t *testing.T) {
	var m Memory
	if _, fault := m.readDataWord(0x4001); fault != FaultUnalignedDataAccess {
		t.Errorf("readDataWord(0x4001) = %v, want FaultUnalignedDataAccess", fault)
	}
}

func TestLoadROMRejectsOversizedImage(t *testing.T) {
	var m Memory
	image := make([]byte, ROMEnd+2)
	err := m.LoadROM(image)
	if err == nil {
		t.Fatal("LoadROM accepted an oversized image")
	}
	if _, ok := err.(*ROMSizeError); !ok {
		t.Errorf("LoadROM error = %T, want *ROMSizeError", err)
	}
}

func TestLoadROMCopiesImageIntoROMWindow(t *testing.T) {
	var m Memory
	image := []byte{0x00, 0x10, 0x00, 0x20}
	if err := m.LoadROM(image); err != nil {
		t.Fatalf("LoadROM returned error: %v", err)
	}
	if got := readWordBE(m.bytes[:], 0); got != 0x0010 {
		t.Errorf("first loaded word = %#04x, want 0x0010", got)
	}
}
