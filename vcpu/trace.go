package vcpu

import "github.com/sirupsen/logrus"

// TraceEventKind tags which of the four trace events occurred.
type TraceEventKind int

const (
	TraceInstructionStart TraceEventKind = iota
	TraceInstructionRetired
	TraceMemoryAccess
	TraceFaultRaised
)

// TraceEvent is one entry in the deterministic trace stream. Every field
// is derived only from architectural state, never from wall-clock time or
// anything else that would make two runs of the same program diverge.
type TraceEvent struct {
	Kind   TraceEventKind
	PC     uint16
	Cycles uint16
	Addr   uint16
	Value  uint16
	Write  bool
	Fault  FaultCode
}

// TraceSink receives trace events as they happen. A core only calls this
// when its CoreConfig.TracingEnabled is set.
type TraceSink interface {
	OnEvent(TraceEvent)
}

// LogrusTraceSink is a human-readable side-channel sink for interactive
// debugging; it is not the byte-exact trace format a host would diff
// across two runs, just a development aid layered over the same events.
type LogrusTraceSink struct {
	Logger *logrus.Logger
}

// NewLogrusTraceSink builds a sink that logs instruction and memory
// events at Debug level and faults at Warn level, using either the
// supplied logger or a freshly constructed one.
func NewLogrusTraceSink(logger *logrus.Logger) *LogrusTraceSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogrusTraceSink{Logger: logger}
}

func (s *LogrusTraceSink) OnEvent(ev TraceEvent) {
	entry := s.Logger.WithFields(logrus.Fields{
		"pc":     ev.PC,
		"cycles": ev.Cycles,
	})
	switch ev.Kind {
	case TraceInstructionStart:
		entry.Debug("instruction start")
	case TraceInstructionRetired:
		entry.Debug("instruction retired")
	case TraceMemoryAccess:
		entry.WithFields(logrus.Fields{"addr": ev.Addr, "value": ev.Value, "write": ev.Write}).Debug("memory access")
	case TraceFaultRaised:
		entry.WithField("fault", ev.Fault.String()).Warn("fault raised")
	}
}

// emitTrace is a no-op unless tracing is enabled and a sink is installed,
// keeping the hot path free of allocation when nobody is watching.
func (c *Core) emitTrace(ev TraceEvent) {
	if !c.config.TracingEnabled || c.trace == nil {
		return
	}
	c.trace.OnEvent(ev)
}
