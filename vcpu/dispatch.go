package vcpu

import "github.com/lucaspiller/nullbyte-directive/mmio"

// Fixed dispatch vectors: ROM addresses holding the entry pointer for
// each handler class. These are not architectural registers — the
// dispatch engine reads through them with a plain data load every time it
// enters a handler, exactly as spec.md's GLOSSARY defines a vector.
const (
	VecTrap  uint16 = 0x0008
	VecEvent uint16 = 0x000A
	VecFault uint16 = 0x000C
)

// CAUSE's high nibble names which of the three dispatch classes latched
// it; the low byte is the class-specific subcode (fault code, event ID,
// or TRAP/SWI-supplied byte).
const (
	causeClassTrap  uint8 = 1
	causeClassEvent uint8 = 2
	causeClassFault uint8 = 3
)

func makeCause(class uint8, code uint8) uint16 {
	return uint16(class&0xF)<<12 | uint16(code)
}

// StepOutcome reports what happened on one StepOne call.
type StepOutcome struct {
	Kind    StepOutcomeKind
	Cycles  uint16
	Cause   FaultCode
	EventID uint8
}

type StepOutcomeKind int

const (
	Retired StepOutcomeKind = iota
	StepHaltedForTick
	TrapDispatch
	EventDispatch
	Fault
)

func (k StepOutcomeKind) String() string {
	switch k {
	case Retired:
		return "retired"
	case StepHaltedForTick:
		return "halted-for-tick"
	case TrapDispatch:
		return "trap-dispatch"
	case EventDispatch:
		return "event-dispatch"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// StepOne advances the core by exactly one unit of work: a dispatched
// event, a dispatched trap/fault, or one retired (or halted) instruction.
// bus may be nil if the program under test never touches MMIO.
func (c *Core) StepOne(bus mmio.Bus) StepOutcome {
	if c.runState == FaultLatched {
		return StepOutcome{Kind: Fault, Cause: c.latchedFault}
	}

	if c.runState == HaltedForTick {
		if c.arch.Tick() >= c.config.TickBudgetCycles {
			c.latchFault(FaultBudgetOverrun)
			return StepOutcome{Kind: Fault, Cause: FaultBudgetOverrun}
		}
		// The host has opened a fresh tick. A budget-fault halt resumes by
		// jumping straight to VEC_FAULT once, skipping the normal
		// push/CAUSE-latch sequence entirely (spec.md §4.4's "exceptional"
		// budget-fault path) — a guest-requested HALT resumes normally.
		if c.budgetFaultPending {
			c.budgetFaultPending = false
			if target, f := c.mem.readDataWord(VecFault); f == FaultNone && validateFetchAccess(target) == FaultNone {
				c.arch.SetPC(target)
			}
		}
		c.runState = Running
	}

	if c.runState == Running && c.canDispatchEvent() {
		id, _ := c.events.Dequeue()
		c.arch.setEVP(evpFromQueueLen(c.events.len))
		return c.performEventDispatch(id)
	}

	pc := c.arch.PC()
	c.emitTrace(TraceEvent{Kind: TraceInstructionStart, PC: pc})
	word, fault := c.mem.fetchWord(pc)
	if fault != FaultNone {
		return c.performFaultDispatch(fault, 0)
	}

	d, fault := decodeWord(word)
	if fault != FaultNone {
		return c.performFaultDispatch(fault, 0)
	}

	if d.AM.requiresExtensionWord() {
		ext, fault := c.mem.fetchWord(pc + 2)
		if fault != FaultNone {
			return c.performFaultDispatch(fault, cycleCostForEncoding(d.Encoding))
		}
		full, fault := finishDecode(d, ext)
		if fault != FaultNone {
			return c.performFaultDispatch(fault, cycleCostForEncoding(d.Encoding))
		}
		d = full
	}

	if d.Encoding == EncEret {
		return c.eretReturn()
	}

	exec, fault := executeInstruction(c, bus, d, pc)
	if fault != FaultNone {
		return c.performFaultDispatch(fault, cycleCostForEncoding(d.Encoding))
	}

	commitExecution(c, bus, exec)
	c.arch.SetTick(c.arch.Tick() + exec.cycles)
	c.emitTrace(TraceEvent{Kind: TraceInstructionRetired, PC: pc, Cycles: exec.cycles})

	outcome := StepOutcome{Kind: Retired, Cycles: exec.cycles}

	if exec.trapPending {
		return c.performTrapDispatch(exec.trapCauseByte)
	}

	if exec.haltForTick {
		c.runState = HaltedForTick
		outcome.Kind = StepHaltedForTick
		return outcome
	}

	if c.arch.Tick() >= c.config.TickBudgetCycles {
		c.diag.RecordFault(FaultBudgetOverrun, c.arch.PC(), c.arch.Tick())
		c.runState = HaltedForTick
		c.budgetFaultPending = true
		outcome.Kind = StepHaltedForTick
	}

	return outcome
}

// canDispatchEvent reports whether a pending event should preempt the
// next instruction: FLAGS.I must be set, CAP_EVTQ must be granted, and the
// queue must be non-empty. Its caller, StepOne, additionally requires the
// Running run-state, so an event never preempts an active handler.
func (c *Core) canDispatchEvent() bool {
	return c.arch.FlagIsSet(FlagI) &&
		c.arch.CapabilityEnabled(CapEVTQ) &&
		!c.events.IsEmpty()
}

// pushWord implements the PUSH side of dispatch entry / handler prologue:
// pre-decrement SP by 2, then store. A fault here (e.g. SP has wandered
// into a non-writable region) is reported to the caller, which escalates
// it per spec.md §4.4's "fault during the dispatch prologue" rule.
func (c *Core) pushWord(v uint16) FaultCode {
	sp := c.arch.SP() - 2
	if f := c.mem.writeDataWord(sp, v); f != FaultNone {
		return f
	}
	c.arch.SetSP(sp)
	return FaultNone
}

// popWord implements the POP side of ERET: load, then post-increment SP.
func (c *Core) popWord() (uint16, FaultCode) {
	v, f := c.mem.readDataWord(c.arch.SP())
	if f != FaultNone {
		return 0, f
	}
	c.arch.SetSP(c.arch.SP() + 2)
	return v, f
}

// enterHandler runs the uniform dispatch-entry sequence from spec.md
// §4.4: latch CAUSE, copy its low byte into R0, push resume PC/FLAGS/
// CAUSE (in that order), clear FLAGS.I, load PC from vector, and move the
// run-state to HandlerContext. Any fault while pushing is left for the
// caller to escalate — dispatch entry never partially commits silently.
func (c *Core) enterHandler(class uint8, codeByte uint8, vector uint16) FaultCode {
	cause := makeCause(class, codeByte)
	resumePC := c.arch.PC()
	flagsBefore := c.arch.Flags()

	c.arch.SetCause(cause)
	c.arch.SetR(0, cause&0x00FF)

	if f := c.pushWord(resumePC); f != FaultNone {
		return f
	}
	if f := c.pushWord(flagsBefore); f != FaultNone {
		return f
	}
	if f := c.pushWord(cause); f != FaultNone {
		return f
	}

	c.arch.SetFlags(c.arch.Flags() &^ FlagI)

	target, f := c.mem.readDataWord(vector)
	if f != FaultNone {
		return f
	}
	c.arch.SetPC(target)
	c.runState = HandlerContext
	return FaultNone
}

func (c *Core) performTrapDispatch(causeByte uint8) StepOutcome {
	if f := c.guardDispatchEntry(); f != FaultNone {
		return c.escalateDispatchFailure(f)
	}
	if f := c.enterHandler(causeClassTrap, causeByte, VecTrap); f != FaultNone {
		return c.escalateDispatchFailure(f)
	}
	cycles := cycleCost(CostTrapDispatchEntry)
	c.arch.SetTick(c.arch.Tick() + cycles)
	c.emitTrace(TraceEvent{Kind: TraceFaultRaised, PC: c.arch.PC(), Cycles: cycles})
	return StepOutcome{Kind: TrapDispatch, Cycles: cycles, Cause: FaultCode(causeByte)}
}

func (c *Core) performEventDispatch(id uint8) StepOutcome {
	if f := c.guardDispatchEntry(); f != FaultNone {
		return c.escalateDispatchFailure(f)
	}
	if f := c.enterHandler(causeClassEvent, id, VecEvent); f != FaultNone {
		return c.escalateDispatchFailure(f)
	}
	cycles := cycleCost(CostEventDispatchEntry)
	c.arch.SetTick(c.arch.Tick() + cycles)
	return StepOutcome{Kind: EventDispatch, Cycles: cycles, EventID: id}
}

// guardDispatchEntry reports FaultDoubleFault if dispatch is attempted
// while already inside a handler — entry never recurses.
func (c *Core) guardDispatchEntry() FaultCode {
	if c.runState == HandlerContext {
		return FaultDoubleFault
	}
	return FaultNone
}

// escalateDispatchFailure is the uniform response to any failure that
// happens while trying to enter a handler (prologue push fault, recursive
// entry, or an unreadable vector): the core latches terminally. No
// partial dispatch is ever left observable.
func (c *Core) escalateDispatchFailure(f FaultCode) StepOutcome {
	c.diag.RecordFault(FaultDoubleFault, c.arch.PC(), c.arch.Tick())
	c.latchFault(FaultDoubleFault)
	return StepOutcome{Kind: Fault, Cause: FaultDoubleFault}
}

// performFaultDispatch decides whether code is recoverable by a guest
// handler or must latch the core terminally. extraCycles is the base
// cost of the instruction that was faulting (0 when the fault is purely
// decode-time, before any opcode was classified), added to the fixed
// dispatch-entry cost per spec.md §4.6.
func (c *Core) performFaultDispatch(code FaultCode, extraCycles uint16) StepOutcome {
	c.diag.RecordFault(code, c.arch.PC(), c.arch.Tick())
	c.emitTrace(TraceEvent{Kind: TraceFaultRaised, PC: c.arch.PC(), Fault: code})

	if code.IsTerminal() {
		c.latchFault(code)
		return StepOutcome{Kind: Fault, Cause: code}
	}
	if c.runState == HandlerContext {
		c.diag.RecordFault(FaultDoubleFault, c.arch.PC(), c.arch.Tick())
		c.latchFault(FaultDoubleFault)
		return StepOutcome{Kind: Fault, Cause: FaultDoubleFault}
	}

	// "VEC_FAULT reads back an illegal code address" — the pointer stored
	// at the fault vector names a non-executable region — is itself a
	// double-fault-class terminal condition (spec.md §4.4).
	target, f := c.mem.readDataWord(VecFault)
	if f != FaultNone || validateFetchAccess(target) != FaultNone {
		c.diag.RecordFault(FaultInvalidFaultVector, c.arch.PC(), c.arch.Tick())
		c.latchFault(FaultInvalidFaultVector)
		return StepOutcome{Kind: Fault, Cause: FaultInvalidFaultVector}
	}

	if f := c.enterHandler(causeClassFault, uint8(code), VecFault); f != FaultNone {
		c.diag.RecordFault(FaultDoubleFault, c.arch.PC(), c.arch.Tick())
		c.latchFault(FaultDoubleFault)
		return StepOutcome{Kind: Fault, Cause: FaultDoubleFault}
	}

	cycles := cycleCost(CostFaultDispatchEntry) + extraCycles
	c.arch.SetTick(c.arch.Tick() + cycles)
	return StepOutcome{Kind: Fault, Cycles: cycles, Cause: code}
}

func (c *Core) latchFault(code FaultCode) {
	c.runState = FaultLatched
	c.latchedFault = code
}

// eretReturn restores the saved caller context and leaves handler mode.
// ERET with no active handler context is itself a fault: a guest that
// executes it outside a trap/event/fault handler gets no special
// treatment. The three words pushed at dispatch entry are popped in
// reverse order: CAUSE, FLAGS, PC.
func (c *Core) eretReturn() StepOutcome {
	if c.runState != HandlerContext {
		return c.performFaultDispatch(FaultHandlerContextViolation, cycleCost(CostEretReturn))
	}

	cause, f1 := c.popWord()
	flags, f2 := c.popWord()
	pc, f3 := c.popWord()
	if f1 != FaultNone || f2 != FaultNone || f3 != FaultNone {
		c.diag.RecordFault(FaultDoubleFault, c.arch.PC(), c.arch.Tick())
		c.latchFault(FaultDoubleFault)
		return StepOutcome{Kind: Fault, Cause: FaultDoubleFault}
	}
	_ = cause // CAUSE is restored to the value latched at entry for symmetry, not reinterpreted here.

	cycles := cycleCost(CostEretReturn)
	c.arch.SetCause(cause)
	c.arch.SetFlags(flags)
	c.arch.SetPC(pc)
	c.runState = Running
	c.arch.SetTick(c.arch.Tick() + cycles)
	c.diag.RecordInstruction()
	return StepOutcome{Kind: Retired, Cycles: cycles}
}

// RunBoundary is why RunOne stopped.
type RunBoundary int

const (
	BoundaryTick RunBoundary = iota
	BoundaryHalted
	BoundaryFault
)

// RunOutcome summarizes a RunOne call.
type RunOutcome struct {
	Steps     int
	Boundary  RunBoundary
	FinalStep StepOutcome
}

// RunOne steps the core until it crosses a tick boundary, halts, or
// faults — whichever happens first.
func (c *Core) RunOne(bus mmio.Bus) RunOutcome {
	steps := 0
	for {
		out := c.StepOne(bus)
		steps++
		switch out.Kind {
		case StepHaltedForTick:
			if c.budgetFaultPending {
				return RunOutcome{Steps: steps, Boundary: BoundaryTick, FinalStep: out}
			}
			return RunOutcome{Steps: steps, Boundary: BoundaryHalted, FinalStep: out}
		case Fault:
			return RunOutcome{Steps: steps, Boundary: BoundaryFault, FinalStep: out}
		}
		if c.runState == HaltedForTick {
			return RunOutcome{Steps: steps, Boundary: BoundaryTick, FinalStep: out}
		}
	}
}

// EventEnqueueResult reports the outcome of EnqueueEvent.
type EventEnqueueResult int

const (
	EventAccepted EventEnqueueResult = iota
	EventOverflow
)

func (r EventEnqueueResult) String() string {
	if r == EventAccepted {
		return "accepted"
	}
	return "overflow"
}

// EnqueueEvent is the host-facing event-injection entry point (spec.md
// §4.9). Enqueue is serialized: same-tick multi-enqueue ordering is
// exactly the order the host called EnqueueEvent, never reordered by the
// core.
func (c *Core) EnqueueEvent(id uint8) EventEnqueueResult {
	if !c.events.Enqueue(id) {
		c.diag.RecordFault(FaultEventQueueOverflow, c.arch.PC(), c.arch.Tick())
		return EventOverflow
	}
	c.arch.setEVP(evpFromQueueLen(c.events.len))
	return EventAccepted
}
