package vcpu

import "testing"

// TestPushFaultsBeforeTouchingStackPointer covers the precise-fault
// guarantee for PUSH: if SP has wandered outside RAM/MMIO, the write must
// fault during staging, leaving SP and memory completely untouched,
// rather than silently discarding the write at commit time.
func TestPushFaultsBeforeTouchingStackPointer(t *testing.T) {
	c := newTestCore()
	c.arch.SetSP(ROMStart + 2) // SP-2 lands in ROM, which is not writable
	c.arch.SetR(0, 0xABCD)
	// PUSH RD=R0: OP=0x7 SUB=0x0, AM=0
	writeWordBE(c.mem.bytes[:], 0x0000, 0x7<<12)
	spBefore := c.arch.SP()
	out := c.StepOne(nil)
	if out.Kind != Fault {
		t.Fatalf("outcome.Kind = %v, want Fault", out.Kind)
	}
	if c.arch.SP() != spBefore {
		t.Fatalf("SP mutated by a faulting PUSH: got %#04x, want unchanged %#04x", c.arch.SP(), spBefore)
	}
}

// TestCallImmediatePushesReturnAddressAndJumps covers the normal CALL
// path: the return address lands on the stack and PC moves to the
// immediate target.
func TestCallImmediatePushesReturnAddressAndJumps(t *testing.T) {
	c := newTestCore()
	c.arch.SetSP(RAMStart + 0x100)
	// CALL #imm: OP=0x6 SUB=0x7, AM=101 (immediate)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x6<<12|0x7<<3|0x5)
	writeWordBE(c.mem.bytes[:], 0x0002, 0x4000)
	out := c.StepOne(nil)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if c.arch.PC() != 0x4000 {
		t.Fatalf("PC after CALL = %#04x, want 0x4000", c.arch.PC())
	}
	ret, f := c.mem.readDataWord(c.arch.SP())
	if f != FaultNone {
		t.Fatalf("reading pushed return address: unexpected fault %v", f)
	}
	if ret != 0x0004 {
		t.Fatalf("pushed return address = %#04x, want 0x0004", ret)
	}
}

// TestEgetDequeuesExactlyOnceOnRetire confirms EGET only removes one event
// and refreshes EVP to the post-dequeue occupancy bitmap.
func TestEgetDequeuesExactlyOnceOnRetire(t *testing.T) {
	c := newTestCore()
	c.events.Enqueue(0x42)
	c.events.Enqueue(0x43)
	// EGET RD=R0: OP=0xA SUB=0x1 (matches encoding.go's EGET slot), AM=0
	writeWordBE(c.mem.bytes[:], 0x0000, 0xA<<12|0x1<<3)
	out := c.StepOne(nil)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if c.arch.R(0) != 0x42 {
		t.Fatalf("R0 after EGET = %#02x, want 0x42", c.arch.R(0))
	}
	if c.events.len != 1 {
		t.Fatalf("queue length after one EGET = %d, want 1", c.events.len)
	}
	if c.arch.EVP() != 0x1 {
		t.Fatalf("EVP after one EGET = %#04x, want 0x1", c.arch.EVP())
	}
}

// TestDiagLoadReflectsLiveCounters covers the DIAG-window read path: a
// LOAD from the instruction-count offset must observe the counter as of
// the read, not a stale render from a previous step.
func TestDiagLoadReflectsLiveCounters(t *testing.T) {
	c := newTestCore()
	writeWordBE(c.mem.bytes[:], 0x0000, 0x0000) // NOP, retires and bumps InstructionCount
	c.StepOne(nil)

	// LOAD R0, [R1] with R1 = DiagStart + diagInstructionCountOffset.
	c.arch.SetR(1, uint16(DiagStart+diagInstructionCountOffset))
	writeWordBE(c.mem.bytes[:], 0x0002, 0x2<<12|0x1<<6|0x1) // LOAD RA=R1, AM=001 (indirect register)
	c.arch.SetPC(0x0002)
	c.StepOne(nil)

	// The read happens while staging the LOAD, before the LOAD itself
	// retires and bumps the counter again — so it observes only the
	// preceding NOP's retirement.
	if c.arch.R(0) != 1 {
		t.Fatalf("R0 after LOAD from DIAG instruction counter = %d, want 1", c.arch.R(0))
	}
}

// TestMulLeavesFlagsUntouched covers the explicit carve-out from the ALU
// and DIV/MOD/QADD/QSUB/SCV family: MUL/MULH never touch FLAGS, even
// though they write a zero result that would otherwise set Z.
func TestMulLeavesFlagsUntouched(t *testing.T) {
	c := newTestCore()
	c.arch.SetFlags(FlagC | FlagV | FlagN)
	c.arch.SetR(0, 0)
	c.arch.SetR(1, 5)
	// MUL RD=R0, RA=R1: OP=0x5 SUB=0x0, AM=0
	writeWordBE(c.mem.bytes[:], 0x0000, 0x5<<12|0x1<<6)
	out := c.StepOne(nil)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if c.arch.R(0) != 0 {
		t.Fatalf("R0 after MUL = %#04x, want 0", c.arch.R(0))
	}
	if c.arch.Flags() != FlagC|FlagV|FlagN {
		t.Fatalf("FLAGS = %#04x, want unchanged %#04x (MUL never touches FLAGS)", c.arch.Flags(), FlagC|FlagV|FlagN)
	}
}

// TestQaddSaturatesInsteadOfWrapping covers the signed saturating-add
// helper gated behind CAP_FXH.
func TestQaddSaturatesInsteadOfWrapping(t *testing.T) {
	c := newTestCore()
	c.arch.SetR(0, 0x7FFF) // INT16_MAX
	c.arch.SetR(1, 1)
	// QADD RD=R0, RA=R1: OP=0x5 SUB=0x4, AM=0
	writeWordBE(c.mem.bytes[:], 0x0000, 0x5<<12|0x4<<3|0x1<<6)
	out := c.StepOne(nil)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if c.arch.R(0) != 0x7FFF {
		t.Fatalf("R0 after saturating QADD = %#04x, want 0x7FFF", c.arch.R(0))
	}
}

// TestTrapCauseByteComesFromNamedRegister covers TRAP's distinct cause
// source (the named register), as opposed to SWI's immediate source.
func TestTrapCauseByteComesFromNamedRegister(t *testing.T) {
	c := newTestCore()
	installVector(c, VecTrap, 0x4000)
	c.arch.SetR(2, 0x1234)
	// TRAP RD=R2: OP=0x0 SUB=0x3 (matches encoding.go's TRAP slot), AM=0
	writeWordBE(c.mem.bytes[:], 0x0000, 0x0<<12|0x3<<3|0x2<<9)
	out := c.StepOne(nil)
	if out.Kind != TrapDispatch {
		t.Fatalf("outcome.Kind = %v, want TrapDispatch", out.Kind)
	}
	if out.Cause != FaultCode(0x34) {
		t.Fatalf("Cause = %#02x, want 0x34 (R2 low byte)", out.Cause)
	}
}
