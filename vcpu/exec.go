package vcpu

import "github.com/lucaspiller/nullbyte-directive/mmio"

// flagsUpdateKind tags which of the four ways an instruction can affect
// FLAGS: leave it alone, clear it, set it to a literal computed value, or
// derive it from an arithmetic result. executeInstruction only stages
// flagsNone and flagsFromResult; ERET restores FLAGS directly in
// eretReturn.
type flagsUpdateKind int

const (
	flagsNone flagsUpdateKind = iota
	flagsClearAll
	flagsSetRaw
	flagsFromResult
)

type flagsUpdate struct {
	kind     flagsUpdateKind
	raw      uint16
	zero     bool
	negative bool
	carry    bool
	overflow bool
	hasCarry bool
	hasOverflow bool
}

// execState stages every side effect an instruction wants to have. Nothing
// here touches the live Core until commitExecution runs, so a fault
// discovered partway through leaves the architectural state exactly as it
// was before the instruction began — the precise-fault guarantee.
type execState struct {
	cycles uint16
	nextPC uint16

	hasRegWrite bool
	regIndex    uint8
	regValue    uint16

	hasAutoInc bool
	autoIncReg uint8
	autoIncVal uint16

	hasMemWrite bool
	memAddr     uint16
	memValue    uint16

	hasMemRead   bool
	memReadAddr  uint16
	memReadValue uint16

	hasMmioWrite bool
	mmioAddr     uint16
	mmioValue    uint16

	hasMmioRead   bool
	mmioReadAddr  uint16
	mmioReadValue uint16

	hasSPWrite bool
	spValue    uint16

	flags flagsUpdate

	haltForTick bool

	trapPending   bool
	trapCauseByte uint8

	hasEventDequeue bool
}

// computeAddress resolves the RA-relative address for modes that name one.
// Callers must only call this for AM in {IndirectRegister,
// SignExtendedDisplacement, ZeroExtendedDisplacement, IndirectAutoIncrement}.
func computeAddress(core *Core, d Decoded) uint16 {
	base := core.arch.R(int(d.RA))
	switch d.AM {
	case SignExtendedDisplacement:
		return base + signExtend6(d.Immediate)
	case ZeroExtendedDisplacement:
		return base + (d.Immediate & 0x3F)
	default: // IndirectRegister, IndirectAutoIncrement
		return base
	}
}

// readOperandMemory reads a data word for the generic (non-MMIO) operand
// path shared by MOV/ALU/CMP's RA-relative addressing modes. MMIO is
// deliberately unreachable through this path: IN is the dedicated MMIO
// read for that operand class. LOAD has its own MMIO-aware read
// (readLoadValue) and does not call this for MMIO addresses.
func readOperandMemory(core *Core, addr uint16) (uint16, FaultCode) {
	switch decodeRegion(addr) {
	case RegionMMIO:
		return 0, FaultIllegalMemoryAccess
	case RegionDiag:
		// DIAG is a read-only window served from the core's own latches,
		// not the backing byte array — render the live values just before
		// the read so LOAD sees current counters, not stale bytes.
		core.diag.renderInto(core.mem.Bytes())
	}
	return core.mem.readDataWord(addr)
}

// readLoadValue resolves a LOAD's operand, dispatching through the mmio.Bus
// when addr falls in the MMIO region and through ordinary memory
// otherwise — spec.md §4.2's "reads legal from ROM, RAM, MMIO" applies to
// LOAD itself, unlike the narrower ALU/MOV operand path above. Mirrors the
// original's execute_load routing the same address through mmio.read16 or
// plain memory depending on which region it falls in.
func readLoadValue(core *Core, bus mmio.Bus, addr uint16) (value uint16, isMmio bool, fault FaultCode) {
	if decodeRegion(addr) != RegionMMIO {
		v, f := readOperandMemory(core, addr)
		return v, false, f
	}
	if f := validateMMIOAlignment(addr); f != FaultNone {
		return 0, false, f
	}
	v := uint16(0)
	if bus != nil {
		if rv, err := bus.Read16(addr); err == nil {
			v = rv
		}
	}
	return v, true, FaultNone
}

// resolveOperand computes the value an instruction's AM/RA pair names,
// used by every encoding that wants "the operand" rather than "the
// operand's address" (MOV, the ALU family, CMP, MUL/DIV and friends).
func resolveOperand(core *Core, d Decoded) (value uint16, autoIncReg uint8, autoInc bool, fault FaultCode) {
	switch d.AM {
	case DirectRegister:
		return core.arch.R(int(d.RA)), 0, false, FaultNone
	case Immediate:
		return d.Immediate, 0, false, FaultNone
	case IndirectRegister, SignExtendedDisplacement, ZeroExtendedDisplacement, IndirectAutoIncrement:
		addr := computeAddress(core, d)
		v, f := readOperandMemory(core, addr)
		if f != FaultNone {
			return 0, 0, false, f
		}
		if d.AM == IndirectAutoIncrement {
			return v, d.RA, true, FaultNone
		}
		return v, 0, false, FaultNone
	default:
		return 0, 0, false, FaultIllegalEncoding
	}
}

// resolveStoreAddress computes the destination address for LOAD/STORE.
// Those encodings require an actual memory address, so DirectRegister and
// Immediate (which name a value, not a location) are not meaningful here.
func resolveStoreAddress(core *Core, d Decoded) (uint16, FaultCode) {
	switch d.AM {
	case IndirectRegister, SignExtendedDisplacement, ZeroExtendedDisplacement, IndirectAutoIncrement:
		return computeAddress(core, d), FaultNone
	default:
		return 0, FaultIllegalMemoryAccess
	}
}

// validatePushAddress checks a CALL/PUSH destination the same way
// writeDataWord would, but ahead of staging, so an SP that has wandered
// into non-writable memory faults before the push is ever committed
// rather than being silently swallowed at commit time.
func validatePushAddress(addr uint16) FaultCode {
	if f := validateWordAlignment(addr); f != FaultNone {
		return f
	}
	return validateWriteAccess(addr)
}

func nzFlags(result uint16) flagsUpdate {
	return flagsUpdate{kind: flagsFromResult, zero: result == 0, negative: result&0x8000 != 0}
}

func arithFlags(result uint16, carry, overflow bool) flagsUpdate {
	f := nzFlags(result)
	f.carry, f.hasCarry = carry, true
	f.overflow, f.hasOverflow = overflow, true
	return f
}

// executeInstruction runs one decoded instruction against a read-only view
// of core's current state and produces a staged execState. It never
// mutates core itself; commitExecution does that, and only if this
// returned FaultNone.
func executeInstruction(core *Core, bus mmio.Bus, d Decoded, pc uint16) (execState, FaultCode) {
	nextPC := pc + d.Size
	exec := execState{nextPC: nextPC, flags: flagsUpdate{kind: flagsNone}}
	exec.cycles = cycleCostForEncoding(d.Encoding)

	switch d.Encoding {
	case EncNop:
		// nothing to stage

	case EncSync:
		// no-op memory/MMIO barrier in a single-threaded core

	case EncHalt:
		exec.haltForTick = true

	case EncTrap:
		// TRAP rd: cause low byte comes from the register named by RD, not
		// from any AM-resolved operand.
		exec.trapPending = true
		exec.trapCauseByte = uint8(core.arch.R(int(d.RD)) & 0xFF)

	case EncSwi:
		// SWI #imm: cause low byte is the low byte of the instruction's
		// immediate operand.
		exec.trapPending = true
		exec.trapCauseByte = uint8(d.Immediate & 0xFF)

	case EncMov:
		v, autoReg, autoInc, f := resolveOperand(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, v
		if autoInc {
			exec.hasAutoInc, exec.autoIncReg, exec.autoIncVal = true, autoReg, core.arch.R(int(autoReg))+2
		}

	case EncLoad:
		addr, f := resolveStoreAddress(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		v, isMmio, f := readLoadValue(core, bus, addr)
		if f != FaultNone {
			return execState{}, f
		}
		exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, v
		exec.flags = nzFlags(v)
		if isMmio {
			exec.hasMmioRead, exec.mmioReadAddr, exec.mmioReadValue = true, addr, v
		} else {
			exec.hasMemRead, exec.memReadAddr, exec.memReadValue = true, addr, v
		}
		if d.AM == IndirectAutoIncrement {
			exec.hasAutoInc, exec.autoIncReg, exec.autoIncVal = true, d.RA, core.arch.R(int(d.RA))+2
		}

	case EncStore:
		addr, f := resolveStoreAddress(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		if decodeRegion(addr) == RegionMMIO {
			if f := validateMMIOAlignment(addr); f != FaultNone {
				return execState{}, f
			}
			exec.hasMmioWrite, exec.mmioAddr, exec.mmioValue = true, addr, core.arch.R(int(d.RD))
		} else {
			if f := validateWordAlignment(addr); f != FaultNone {
				return execState{}, f
			}
			if f := validateWriteAccess(addr); f != FaultNone {
				return execState{}, f
			}
			exec.hasMemWrite, exec.memAddr, exec.memValue = true, addr, core.arch.R(int(d.RD))
		}
		if d.AM == IndirectAutoIncrement {
			exec.hasAutoInc, exec.autoIncReg, exec.autoIncVal = true, d.RA, core.arch.R(int(d.RA))+2
		}

	case EncAdd, EncSub, EncAnd, EncOr, EncXor, EncShl, EncShr, EncCmp:
		if f := requireCapabilityForEncoding(core, d.Encoding); f != FaultNone {
			return execState{}, f
		}
		b, autoReg, autoInc, f := resolveOperand(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		a := core.arch.R(int(d.RD))
		result, carry, overflow := aluCompute(d.Encoding, a, b)
		if d.Encoding == EncShl || d.Encoding == EncShr {
			// C takes the last bit shifted out; a zero shift count leaves C as it was.
			switch n := b & 0xF; {
			case n == 0:
				carry = core.arch.FlagIsSet(FlagC)
			case d.Encoding == EncShl:
				carry = (a>>(16-n))&1 != 0
			default:
				carry = (a>>(n-1))&1 != 0
			}
		}
		if d.Encoding != EncCmp {
			exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, result
		}
		exec.flags = arithFlags(result, carry, overflow)
		if autoInc {
			exec.hasAutoInc, exec.autoIncReg, exec.autoIncVal = true, autoReg, core.arch.R(int(autoReg))+2
		}

	case EncMul, EncMulh:
		// MUL/MULH never touch flags, unlike the rest of the math-helper
		// family below.
		if f := requireCapabilityForEncoding(core, d.Encoding); f != FaultNone {
			return execState{}, f
		}
		b, autoReg, autoInc, f := resolveOperand(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		a := core.arch.R(int(d.RD))
		result := mathHelperCompute(d.Encoding, a, b)
		exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, result
		if autoInc {
			exec.hasAutoInc, exec.autoIncReg, exec.autoIncVal = true, autoReg, core.arch.R(int(autoReg))+2
		}

	case EncDiv, EncMod, EncQadd, EncQsub, EncScv:
		if f := requireCapabilityForEncoding(core, d.Encoding); f != FaultNone {
			return execState{}, f
		}
		b, autoReg, autoInc, f := resolveOperand(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		a := core.arch.R(int(d.RD))
		result := mathHelperCompute(d.Encoding, a, b)
		exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, result
		exec.flags = nzFlags(result)
		if autoInc {
			exec.hasAutoInc, exec.autoIncReg, exec.autoIncVal = true, autoReg, core.arch.R(int(autoReg))+2
		}

	case EncBeq, EncBne, EncBlt, EncBle, EncBgt, EncBge:
		taken, target, f := resolveBranch(core, d, nextPC)
		if f != FaultNone {
			return execState{}, f
		}
		if taken {
			exec.nextPC = target
			exec.cycles = cycleCost(CostBranchTaken)
		} else {
			exec.cycles = cycleCost(CostBranchNotTaken)
		}

	case EncJmp:
		target, f := resolveJumpTarget(core, d, nextPC)
		if f != FaultNone {
			return execState{}, f
		}
		exec.nextPC = target

	case EncCallOrRet:
		switch d.AM {
		case Immediate:
			addr := core.arch.SP() - 2
			if f := validatePushAddress(addr); f != FaultNone {
				return execState{}, f
			}
			exec.hasMemWrite, exec.memAddr, exec.memValue = true, addr, nextPC
			exec.hasSPWrite, exec.spValue = true, addr
			exec.nextPC = d.Immediate
		case DirectRegister:
			ret, f := core.mem.readDataWord(core.arch.SP())
			if f != FaultNone {
				return execState{}, f
			}
			exec.hasSPWrite, exec.spValue = true, core.arch.SP()+2
			exec.nextPC = ret
		default:
			return execState{}, FaultIllegalEncoding
		}

	case EncPush:
		addr := core.arch.SP() - 2
		if f := validatePushAddress(addr); f != FaultNone {
			return execState{}, f
		}
		exec.hasMemWrite, exec.memAddr, exec.memValue = true, addr, core.arch.R(int(d.RD))
		exec.hasSPWrite, exec.spValue = true, addr

	case EncPop:
		v, f := core.mem.readDataWord(core.arch.SP())
		if f != FaultNone {
			return execState{}, f
		}
		exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, v
		exec.hasSPWrite, exec.spValue = true, core.arch.SP()+2

	case EncIn:
		addr, f := resolveMmioAddress(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		v := uint16(0)
		if bus != nil {
			if rv, err := bus.Read16(addr); err == nil {
				v = rv
			}
			exec.hasMmioRead, exec.mmioReadAddr, exec.mmioReadValue = true, addr, v
		}
		exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, v
		exec.flags = nzFlags(v)

	case EncOut:
		addr, f := resolveMmioAddress(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		exec.hasMmioWrite, exec.mmioAddr, exec.mmioValue = true, addr, core.arch.R(int(d.RD))

	case EncBset, EncBclr, EncBtest:
		// BSET/BCLR/BTEST are MMIO instructions: the bit index comes from
		// R[rd] & 0x000F, but the read-modify-write targets the MMIO
		// address named by RA/AM, the same effective-address computation
		// IN/OUT use. RD itself is never read-modify-written.
		if f := requireCapabilityForEncoding(core, d.Encoding); f != FaultNone {
			return execState{}, f
		}
		addr, f := resolveMmioAddress(core, d)
		if f != FaultNone {
			return execState{}, f
		}
		bit := core.arch.R(int(d.RD)) & 0x0F
		v := uint16(0)
		if bus != nil {
			if rv, err := bus.Read16(addr); err == nil {
				v = rv
			}
		}
		exec.hasMmioRead, exec.mmioReadAddr, exec.mmioReadValue = true, addr, v
		switch d.Encoding {
		case EncBset:
			exec.hasMmioWrite, exec.mmioAddr, exec.mmioValue = true, addr, v|(1<<bit)
		case EncBclr:
			exec.hasMmioWrite, exec.mmioAddr, exec.mmioValue = true, addr, v&^(1<<bit)
		case EncBtest:
			exec.flags = nzFlags(v & (1 << bit))
		}

	case EncEwait:
		if f := requireCapabilityForEncoding(core, d.Encoding); f != FaultNone {
			return execState{}, f
		}
		// With the queue empty EWAIT stalls: PC stays on the EWAIT so it
		// runs again on the next step, still charging its cycle. With an
		// event queued it retires normally.
		if core.events.IsEmpty() {
			exec.nextPC = pc
		}

	case EncEget:
		if f := requireCapabilityForEncoding(core, d.Encoding); f != FaultNone {
			return execState{}, f
		}
		id, ok := core.events.Peek()
		v := uint16(0)
		if ok {
			v = uint16(id)
			exec.hasEventDequeue = true
		}
		exec.hasRegWrite, exec.regIndex, exec.regValue = true, d.RD, v

	case EncEret:
		// handled entirely by dispatch.go's eretReturn; reaching this means
		// a decoded ERET with no pending handler context, which dispatch
		// rejects before calling executeInstruction.

	default:
		return execState{}, FaultIllegalEncoding
	}

	return exec, FaultNone
}

// requireCapabilityForEncoding enforces the CAP_ATOM/CAP_FXH/CAP_EVTQ gates
// on the opcode families that need them.
func requireCapabilityForEncoding(core *Core, enc Encoding) FaultCode {
	bit, gated := capabilityBitForEncoding(enc)
	if !gated {
		return FaultNone
	}
	if core.arch.CapabilityEnabled(bit) {
		return FaultNone
	}
	return FaultCapabilityViolation
}

func capabilityBitForEncoding(enc Encoding) (uint8, bool) {
	switch enc {
	case EncEwait, EncEget:
		return CapEVTQ, true
	case EncBset, EncBclr, EncBtest:
		return CapATOM, true
	case EncMulh, EncQadd, EncQsub, EncScv:
		return CapFXH, true
	default:
		return 0, false
	}
}

func resolveMmioAddress(core *Core, d Decoded) (uint16, FaultCode) {
	var addr uint16
	switch d.AM {
	case IndirectRegister, SignExtendedDisplacement, ZeroExtendedDisplacement, IndirectAutoIncrement:
		addr = computeAddress(core, d)
	case Immediate:
		addr = d.Immediate
	default:
		return 0, FaultIllegalMemoryAccess
	}
	if decodeRegion(addr) != RegionMMIO {
		return 0, FaultIllegalMemoryAccess
	}
	if f := validateMMIOAlignment(addr); f != FaultNone {
		return 0, f
	}
	return addr, FaultNone
}

func resolveBranch(core *Core, d Decoded, nextPC uint16) (taken bool, target uint16, fault FaultCode) {
	cond := branchConditionMet(d.Encoding, core.arch.Flags())
	if !cond {
		return false, nextPC, FaultNone
	}
	switch d.AM {
	case DirectRegister:
		return true, core.arch.R(int(d.RA)), FaultNone
	case SignExtendedDisplacement:
		return true, nextPC + signExtend6(d.Immediate), FaultNone
	case ZeroExtendedDisplacement:
		return true, nextPC + (d.Immediate & 0x3F), FaultNone
	default:
		return false, 0, FaultIllegalEncoding
	}
}

func branchConditionMet(enc Encoding, flags uint16) bool {
	z := flags&FlagZ != 0
	n := flags&FlagN != 0
	c := flags&FlagC != 0
	v := flags&FlagV != 0
	switch enc {
	case EncBeq:
		return z
	case EncBne:
		return !z
	case EncBlt:
		return n != v
	case EncBle:
		return z || n != v
	case EncBgt:
		return !z && n == v
	case EncBge:
		return n == v
	default:
		_ = c
		return false
	}
}

func resolveJumpTarget(core *Core, d Decoded, nextPC uint16) (uint16, FaultCode) {
	switch d.AM {
	case Immediate:
		return nextPC + int16ToU16(int16(d.Immediate)), FaultNone
	case DirectRegister:
		return core.arch.R(int(d.RA)), FaultNone
	case IndirectRegister, SignExtendedDisplacement, ZeroExtendedDisplacement, IndirectAutoIncrement:
		return computeAddress(core, d), FaultNone
	default:
		return 0, FaultIllegalEncoding
	}
}

func int16ToU16(v int16) uint16 { return uint16(v) }

func aluCompute(enc Encoding, a, b uint16) (result uint16, carry, overflow bool) {
	switch enc {
	case EncAdd:
		sum := uint32(a) + uint32(b)
		result = uint16(sum)
		carry = sum > 0xFFFF
		overflow = (a^result)&(b^result)&0x8000 != 0
	case EncSub, EncCmp:
		diff := uint32(a) - uint32(b)
		result = uint16(diff)
		carry = a < b
		overflow = (a^b)&(a^result)&0x8000 != 0
	case EncAnd:
		result = a & b
	case EncOr:
		result = a | b
	case EncXor:
		result = a ^ b
	case EncShl:
		result = a << (b & 0xF)
	case EncShr:
		result = a >> (b & 0xF)
	}
	return
}

func mathHelperCompute(enc Encoding, a, b uint16) uint16 {
	switch enc {
	case EncMul:
		return uint16(uint32(a) * uint32(b))
	case EncMulh:
		return uint16((uint32(a) * uint32(b)) >> 16)
	case EncDiv:
		if b == 0 {
			return 0
		}
		return a / b
	case EncMod:
		if b == 0 {
			return 0
		}
		return a % b
	case EncQadd:
		sum := int32(int16(a)) + int32(int16(b))
		return saturate16(sum)
	case EncQsub:
		diff := int32(int16(a)) - int32(int16(b))
		return saturate16(diff)
	case EncScv:
		return uint16(int16(b))
	default:
		return 0
	}
}

func saturate16(v int32) uint16 {
	if v > 0x7FFF {
		return 0x7FFF
	}
	if v < -0x8000 {
		return 0x8000
	}
	return uint16(int16(v))
}

// commitExecution applies a staged execState to core. It is the only place
// that writes ArchState/Memory/the event queue on the normal instruction
// path; everything above it only reads.
func commitExecution(core *Core, bus mmio.Bus, exec execState) {
	pc := core.arch.PC()
	if exec.hasMemRead {
		core.emitTrace(TraceEvent{Kind: TraceMemoryAccess, PC: pc, Addr: exec.memReadAddr, Value: exec.memReadValue})
	}
	if exec.hasMmioRead {
		core.emitTrace(TraceEvent{Kind: TraceMemoryAccess, PC: pc, Addr: exec.mmioReadAddr, Value: exec.mmioReadValue})
	}
	if exec.hasMemWrite {
		core.mem.writeDataWord(exec.memAddr, exec.memValue)
		core.emitTrace(TraceEvent{Kind: TraceMemoryAccess, PC: pc, Addr: exec.memAddr, Value: exec.memValue, Write: true})
	}
	if exec.hasMmioWrite && bus != nil {
		res, err := bus.Write16(exec.mmioAddr, exec.mmioValue)
		if err != nil || res == mmio.DeniedSuppressed {
			core.diag.RecordDeniedWrite()
		}
		core.emitTrace(TraceEvent{Kind: TraceMemoryAccess, PC: pc, Addr: exec.mmioAddr, Value: exec.mmioValue, Write: true})
	}
	if exec.hasRegWrite {
		core.arch.SetR(int(exec.regIndex), exec.regValue)
	}
	if exec.hasAutoInc {
		core.arch.SetR(int(exec.autoIncReg), exec.autoIncVal)
	}
	if exec.hasSPWrite {
		core.arch.SetSP(exec.spValue)
	}
	if exec.hasEventDequeue {
		core.events.Dequeue()
		core.arch.setEVP(evpFromQueueLen(core.events.len))
	}
	switch exec.flags.kind {
	case flagsClearAll:
		core.arch.SetFlags(0)
	case flagsSetRaw:
		core.arch.SetFlags(exec.flags.raw)
	case flagsFromResult:
		v := core.arch.Flags() &^ (FlagZ | FlagN | FlagC | FlagV)
		if exec.flags.zero {
			v |= FlagZ
		}
		if exec.flags.negative {
			v |= FlagN
		}
		if exec.flags.hasCarry && exec.flags.carry {
			v |= FlagC
		}
		if exec.flags.hasOverflow && exec.flags.overflow {
			v |= FlagV
		}
		core.arch.SetFlags(v)
	}
	core.arch.SetPC(exec.nextPC)
	core.diag.RecordInstruction()
}
