package vcpu

// defaultTickBudgetCycles is the number of cycles a tick may spend before
// the core halts for the tick boundary (or, if the host never opens a new
// tick, faults with FaultBudgetOverrun).
const defaultTickBudgetCycles = 640

// RunState is the coarse state machine every StepOne call observes and
// can move the core through. FaultLatched is terminal: nothing but Reset
// or a snapshot import makes further progress possible.
type RunState int

const (
	Running RunState = iota
	HaltedForTick
	HandlerContext
	FaultLatched
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case HaltedForTick:
		return "halted-for-tick"
	case HandlerContext:
		return "handler-context"
	case FaultLatched:
		return "fault-latched"
	default:
		return "unknown"
	}
}

// CoreConfig carries the knobs a host picks at construction time.
type CoreConfig struct {
	Profile           Profile
	TickBudgetCycles  uint16
	TracingEnabled    bool
}

// Core is the complete simulated machine: architectural registers, the
// flat address space, the bounded event queue, the diagnostics latch, and
// the run-state machine that step_one/RunOne drive. Like the teacher's
// State, every piece of mutable state lives in unexported fields reached
// through methods; callers never poke at memory or registers directly.
// Handler-return context (resume PC/FLAGS/CAUSE) is not duplicated here —
// dispatch entry pushes it onto the guest stack per spec.md §4.4, and
// ERET pops it back from there, so Core only needs runState to know
// whether a handler is active.
type Core struct {
	arch   ArchState
	mem    Memory
	events EventQueue
	diag   DiagFields

	config CoreConfig

	runState     RunState
	latchedFault FaultCode

	// budgetFaultPending marks a HaltedForTick entered by crossing the
	// cycle budget (as opposed to a guest HALT): the next StepOne call
	// that finds a fresh tick open jumps straight to VEC_FAULT once,
	// skipping the normal push sequence (spec.md §4.4).
	budgetFaultPending bool

	trace TraceSink
}

// NewCore builds a freshly reset core for the given configuration.
func NewCore(config CoreConfig) *Core {
	if config.TickBudgetCycles == 0 {
		config.TickBudgetCycles = defaultTickBudgetCycles
	}
	c := &Core{config: config}
	c.Reset()
	return c
}

// Reset performs the canonical reset: registers zero (SP to the top of
// RAM, CAP to the profile's default mask), event queue and diagnostics cleared, run-state
// back to Running — but the memory image is left untouched, so a host
// that just LoadROM'd a program doesn't need to reload it after Reset.
func (c *Core) Reset() {
	c.arch.resetToProfile(c.config.Profile)
	c.events = EventQueue{}
	c.diag.reset()
	c.runState = Running
	c.latchedFault = FaultNone
	c.budgetFaultPending = false
}

// LoadROM copies image into the fixed ROM window.
func (c *Core) LoadROM(image []byte) error {
	return c.mem.LoadROM(image)
}

// RunState reports the core's current coarse state.
func (c *Core) RunState() RunState { return c.runState }

// LatchedFault reports the terminal fault code, if the core is
// FaultLatched; it is FaultNone otherwise.
func (c *Core) LatchedFault() FaultCode { return c.latchedFault }

// Arch exposes the architectural register file for host introspection
// (debuggers, trace sinks). Mutating it directly bypasses diagnostics and
// is only intended for test harnesses.
func (c *Core) Arch() *ArchState { return &c.arch }

// Memory exposes the flat address space for host introspection and MMIO
// device wiring that needs to see RAM (e.g. a framebuffer window).
func (c *Core) Memory() *Memory { return &c.mem }

// Diag returns the current diagnostics snapshot.
func (c *Core) Diag() DiagFields { return c.diag }

// SetTraceSink installs (or clears, with nil) the sink that receives a
// TraceEvent for every instruction boundary, memory access, and fault
// while TracingEnabled is set in the core's config.
func (c *Core) SetTraceSink(sink TraceSink) { c.trace = sink }
