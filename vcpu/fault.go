package vcpu

// FaultCode is the stable, ISA-visible cause value latched into CAUSE and
// R0 on fault dispatch. Values are fixed and never renumbered — a guest
// handler written against this table keeps working across core versions.
type FaultCode uint8

// FaultNone is not a real fault; it is the zero value used internally by
// the decode/memory helpers to mean "no fault occurred".
const FaultNone FaultCode = 0

const (
	FaultIllegalEncoding        FaultCode = 0x01
	FaultNonExecutableFetch     FaultCode = 0x02
	FaultIllegalMemoryAccess    FaultCode = 0x03
	FaultUnalignedDataAccess    FaultCode = 0x04
	FaultMmioWidthViolation     FaultCode = 0x05
	FaultMmioAlignmentViolation FaultCode = 0x06
	FaultEventQueueOverflow     FaultCode = 0x07
	FaultHandlerContextViolation FaultCode = 0x08
	FaultCapabilityViolation    FaultCode = 0x09
	FaultBudgetOverrun          FaultCode = 0x0A
	FaultInvalidFaultVector     FaultCode = 0x0B
	FaultDoubleFault            FaultCode = 0x0C
)

// FaultClass groups fault codes for diagnostics counting.
type FaultClass int

const (
	FaultClassDecode FaultClass = iota
	FaultClassMemory
	FaultClassMmio
	FaultClassEvent
	FaultClassDispatch
	FaultClassBudget
	FaultClassCapability
)

// Class returns the diagnostics class this fault code belongs to.
func (c FaultCode) Class() FaultClass {
	switch c {
	case FaultIllegalEncoding:
		return FaultClassDecode
	case FaultNonExecutableFetch, FaultIllegalMemoryAccess, FaultUnalignedDataAccess:
		return FaultClassMemory
	case FaultMmioWidthViolation, FaultMmioAlignmentViolation:
		return FaultClassMmio
	case FaultEventQueueOverflow:
		return FaultClassEvent
	case FaultHandlerContextViolation, FaultInvalidFaultVector, FaultDoubleFault:
		return FaultClassDispatch
	case FaultBudgetOverrun:
		return FaultClassBudget
	case FaultCapabilityViolation:
		return FaultClassCapability
	default:
		return FaultClassDecode
	}
}

// IsTerminal reports whether this fault puts the core into a
// FaultLatched state with no recoverable dispatch path — only an explicit
// Reset or snapshot import can make progress again.
func (c FaultCode) IsTerminal() bool {
	return c == FaultInvalidFaultVector || c == FaultDoubleFault
}

func (c FaultCode) String() string {
	switch c {
	case FaultNone:
		return "none"
	case FaultIllegalEncoding:
		return "illegal-encoding"
	case FaultNonExecutableFetch:
		return "non-executable-fetch"
	case FaultIllegalMemoryAccess:
		return "illegal-memory-access"
	case FaultUnalignedDataAccess:
		return "unaligned-data-access"
	case FaultMmioWidthViolation:
		return "mmio-width-violation"
	case FaultMmioAlignmentViolation:
		return "mmio-alignment-violation"
	case FaultEventQueueOverflow:
		return "event-queue-overflow"
	case FaultHandlerContextViolation:
		return "handler-context-violation"
	case FaultCapabilityViolation:
		return "capability-violation"
	case FaultBudgetOverrun:
		return "budget-overrun"
	case FaultInvalidFaultVector:
		return "invalid-fault-vector"
	case FaultDoubleFault:
		return "double-fault"
	default:
		return "unknown-fault"
	}
}
