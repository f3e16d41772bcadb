package vcpu

import (
	"testing"

	"github.com/lucaspiller/nullbyte-directive/mmio"
)

// fakeBus is a minimal in-memory mmio.Bus for exercising IN/OUT without a
// real device behind it. denyAddr, if set, makes writes to that address
// come back DeniedSuppressed instead of Applied.
type fakeBus struct {
	words    map[uint16]uint16
	denyAddr uint16
	hasDeny  bool
}

func (b *fakeBus) Read16(addr uint16) (uint16, error) {
	return b.words[addr], nil
}

func (b *fakeBus) Write16(addr uint16, value uint16) (mmio.WriteResult, error) {
	if b.hasDeny && addr == b.denyAddr {
		return mmio.DeniedSuppressed, nil
	}
	if b.words == nil {
		b.words = map[uint16]uint16{}
	}
	b.words[addr] = value
	return mmio.Applied, nil
}

// TestOutWritesThroughToBus covers the normal OUT path: the value in RD
// lands at the MMIO address named by RA, with no ISA-visible side effect
// beyond the write itself.
func TestOutWritesThroughToBus(t *testing.T) {
	c := newTestCore()
	bus := &fakeBus{}
	c.arch.SetR(0, 0x1234)
	c.arch.SetR(1, MMIOStart)
	// OUT RD=R0, [RA=R1]: OP=0x8 SUB=0x1, AM=001 (indirect register)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x8<<12|0x1<<3|0x1<<6|0x1)
	out := c.StepOne(bus)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if bus.words[MMIOStart] != 0x1234 {
		t.Fatalf("bus[%#04x] = %#04x, want 0x1234", MMIOStart, bus.words[MMIOStart])
	}
	if c.diag.DeniedWriteCount != 0 {
		t.Fatalf("DeniedWriteCount = %d, want 0 for an applied write", c.diag.DeniedWriteCount)
	}
}

// TestOutDeniedWriteCountsInDiagnosticsNotAsFault covers the "denied write
// is diagnostics-only" rule: OUT still retires normally, but the denial is
// visible in DeniedWriteCount.
func TestOutDeniedWriteCountsInDiagnosticsNotAsFault(t *testing.T) {
	c := newTestCore()
	bus := &fakeBus{denyAddr: MMIOStart, hasDeny: true}
	c.arch.SetR(0, 0xBEEF)
	c.arch.SetR(1, MMIOStart)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x8<<12|0x1<<3|0x1<<6|0x1)
	out := c.StepOne(bus)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired (a denied write is not a fault)", out)
	}
	if c.diag.DeniedWriteCount != 1 {
		t.Fatalf("DeniedWriteCount = %d, want 1", c.diag.DeniedWriteCount)
	}
}

// TestInMisalignedAddressFaults covers the alignment check OUT/IN share: an
// odd MMIO address can never reach the bus at all.
func TestInMisalignedAddressFaults(t *testing.T) {
	c := newTestCore()
	bus := &fakeBus{}
	c.arch.SetR(1, MMIOStart+1)
	// IN RD=R0, [RA=R1]: OP=0x8 SUB=0x0, AM=001 (indirect register)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x8<<12|0x1<<6|0x1)
	out := c.StepOne(bus)
	if out.Kind != Fault {
		t.Fatalf("outcome.Kind = %v, want Fault", out.Kind)
	}
}

// TestLoadReadsThroughMmioAndSetsFlags covers LOAD's MMIO-capable read
// path: spec.md's "reads legal from ROM, RAM, MMIO" applies to LOAD
// itself, and a successful LOAD sets Z/N and clears C/V from the value
// read, same as any other register-producing instruction.
func TestLoadReadsThroughMmioAndSetsFlags(t *testing.T) {
	c := newTestCore()
	bus := &fakeBus{words: map[uint16]uint16{MMIOStart: 0}}
	c.arch.SetFlags(FlagC | FlagV)
	c.arch.SetR(1, MMIOStart)
	// LOAD RD=R0, [RA=R1]: OP=0x2 SUB=0x0, AM=001 (indirect register)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x2<<12|0x1<<6|0x1)
	out := c.StepOne(bus)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if c.arch.R(0) != 0 {
		t.Fatalf("R0 = %#04x, want 0", c.arch.R(0))
	}
	if c.arch.Flags()&FlagZ == 0 {
		t.Fatalf("FLAGS.Z clear, want set for a zero LOAD result")
	}
	if c.arch.Flags()&(FlagC|FlagV) != 0 {
		t.Fatalf("FLAGS.C/V = %#04x, want both cleared by LOAD", c.arch.Flags())
	}
}

// TestStoreWritesThroughToMmio covers STORE's MMIO-capable write path,
// the counterpart to TestLoadReadsThroughMmioAndSetsFlags.
func TestStoreWritesThroughToMmio(t *testing.T) {
	c := newTestCore()
	bus := &fakeBus{}
	c.arch.SetR(0, 0x77AA)
	c.arch.SetR(1, MMIOStart)
	// STORE [RA=R1], RD=R0: OP=0x3 SUB=0x0, AM=001 (indirect register)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x3<<12|0x1<<6|0x1)
	out := c.StepOne(bus)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if bus.words[MMIOStart] != 0x77AA {
		t.Fatalf("bus[%#04x] = %#04x, want 0x77AA", MMIOStart, bus.words[MMIOStart])
	}
}

// TestBsetPerformsAtomicMmioReadModifyWrite covers a granted-capability
// BSET: the bit index comes from R[rd], the target is the MMIO address
// named by RA, and the result lands back on the bus, not in a register.
func TestBsetPerformsAtomicMmioReadModifyWrite(t *testing.T) {
	c := newTestCore()
	bus := &fakeBus{words: map[uint16]uint16{MMIOStart: 0x0001}}
	c.arch.SetR(1, MMIOStart) // RA: address register
	c.arch.SetR(2, 3)         // RD: bit index register, low nibble = 3
	// BSET RD=R2, [RA=R1]: OP=0x9 SUB=0x0, AM=001 (indirect register)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x9<<12|0x2<<9|0x1<<6|0x1)
	out := c.StepOne(bus)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if bus.words[MMIOStart] != 0x0009 {
		t.Fatalf("bus[%#04x] = %#04x, want 0x0009 (bit 3 set on top of bit 0)", MMIOStart, bus.words[MMIOStart])
	}
	if c.arch.R(2) != 3 {
		t.Fatalf("R2 = %#04x, want unchanged 3 (BSET never writes RD)", c.arch.R(2))
	}
}

// TestBtestSetsZeroFlagFromMmioBitWithoutWriting covers BTEST's read-only
// form: it reads the bus and sets Z, but never writes back.
func TestBtestSetsZeroFlagFromMmioBitWithoutWriting(t *testing.T) {
	c := newTestCore()
	bus := &fakeBus{words: map[uint16]uint16{MMIOStart: 0x0008}} // bit 3 set
	c.arch.SetR(1, MMIOStart)
	c.arch.SetR(2, 3)
	// BTEST RD=R2, [RA=R1]: OP=0x9 SUB=0x2, AM=001 (indirect register)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x9<<12|0x2<<9|0x1<<6|0x2<<3|0x1)
	out := c.StepOne(bus)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if c.arch.Flags()&FlagZ != 0 {
		t.Fatalf("FLAGS.Z set, want clear (tested bit was 1)")
	}
	if bus.words[MMIOStart] != 0x0008 {
		t.Fatalf("bus[%#04x] = %#04x, want unchanged 0x0008 (BTEST never writes)", MMIOStart, bus.words[MMIOStart])
	}
}
