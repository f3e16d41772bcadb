package vcpu

// Byte offsets of the core-owned fields inside the DIAG window
// (0xF000-0xF0FF). Everything from diagUserSpaceOffset onward is a
// caller-defined scratch area the core never writes.
const (
	diagLastFaultCodeOffset     = 0x00
	diagLastFaultPCOffset       = 0x02
	diagLastFaultTickOffset     = 0x04
	diagFaultCountDecodeOffset  = 0x06
	diagFaultCountMemoryOffset  = 0x08
	diagFaultCountMmioOffset    = 0x0A
	diagFaultCountEventOffset   = 0x0C
	diagFaultCountDispatchOffset = 0x0E
	diagFaultCountBudgetOffset  = 0x10
	diagFaultCountCapabilityOffset = 0x12
	diagInstructionCountOffset  = 0x14
	diagDeniedWriteCountOffset  = 0x16
	diagUserSpaceOffset         = 0x18
)

// DiagFields holds the core-owned diagnostic counters exposed read-only
// through the DIAG memory window. Every counter saturates rather than
// wrapping, so a long-running guest can treat "at max" as a reliable
// signal rather than having to worry about wraparound aliasing.
type DiagFields struct {
	LastFaultCode      FaultCode
	HasFault           bool
	LastFaultPC        uint16
	LastFaultTick      uint16
	FaultCountDecode   uint16
	FaultCountMemory   uint16
	FaultCountMmio     uint16
	FaultCountEvent    uint16
	FaultCountDispatch uint16
	FaultCountBudget   uint16
	FaultCountCapability uint16
	InstructionCount   uint16
	DeniedWriteCount   uint16
}

func saturatingIncr(v uint16) uint16 {
	if v == 0xFFFF {
		return v
	}
	return v + 1
}

// RecordFault latches the most recent fault and increments the counter
// for its class.
func (d *DiagFields) RecordFault(code FaultCode, pc uint16, tick uint16) {
	d.LastFaultCode = code
	d.HasFault = true
	d.LastFaultPC = pc
	d.LastFaultTick = tick
	switch code.Class() {
	case FaultClassDecode:
		d.FaultCountDecode = saturatingIncr(d.FaultCountDecode)
	case FaultClassMemory:
		d.FaultCountMemory = saturatingIncr(d.FaultCountMemory)
	case FaultClassMmio:
		d.FaultCountMmio = saturatingIncr(d.FaultCountMmio)
	case FaultClassEvent:
		d.FaultCountEvent = saturatingIncr(d.FaultCountEvent)
	case FaultClassDispatch:
		d.FaultCountDispatch = saturatingIncr(d.FaultCountDispatch)
	case FaultClassBudget:
		d.FaultCountBudget = saturatingIncr(d.FaultCountBudget)
	case FaultClassCapability:
		d.FaultCountCapability = saturatingIncr(d.FaultCountCapability)
	}
}

// RecordInstruction increments the retired-instruction counter.
func (d *DiagFields) RecordInstruction() {
	d.InstructionCount = saturatingIncr(d.InstructionCount)
}

// RecordDeniedWrite increments the denied-MMIO-write counter.
func (d *DiagFields) RecordDeniedWrite() {
	d.DeniedWriteCount = saturatingIncr(d.DeniedWriteCount)
}

// reset clears all counters, used by Core.Reset.
func (d *DiagFields) reset() { *d = DiagFields{} }

// renderInto writes the core-owned fields into the live DIAG window of
// mem so that a guest LOAD from 0xF000-0xF017 observes current values.
// The user-defined tail (0xF018-0xF0FF) is left untouched; callers write
// it directly through Memory like any other byte range.
func (d *DiagFields) renderInto(mem []byte) {
	base := DiagStart
	code := uint16(0)
	if d.HasFault {
		code = uint16(d.LastFaultCode)
	}
	writeWordBE(mem, uint16(base+diagLastFaultCodeOffset), code)
	writeWordBE(mem, uint16(base+diagLastFaultPCOffset), d.LastFaultPC)
	writeWordBE(mem, uint16(base+diagLastFaultTickOffset), d.LastFaultTick)
	writeWordBE(mem, uint16(base+diagFaultCountDecodeOffset), d.FaultCountDecode)
	writeWordBE(mem, uint16(base+diagFaultCountMemoryOffset), d.FaultCountMemory)
	writeWordBE(mem, uint16(base+diagFaultCountMmioOffset), d.FaultCountMmio)
	writeWordBE(mem, uint16(base+diagFaultCountEventOffset), d.FaultCountEvent)
	writeWordBE(mem, uint16(base+diagFaultCountDispatchOffset), d.FaultCountDispatch)
	writeWordBE(mem, uint16(base+diagFaultCountBudgetOffset), d.FaultCountBudget)
	writeWordBE(mem, uint16(base+diagFaultCountCapabilityOffset), d.FaultCountCapability)
	writeWordBE(mem, uint16(base+diagInstructionCountOffset), d.InstructionCount)
	writeWordBE(mem, uint16(base+diagDeniedWriteCountOffset), d.DeniedWriteCount)
}
