package vcpu

import "testing"

type recordingSink struct {
	events []TraceEvent
}

func (s *recordingSink) OnEvent(ev TraceEvent) {
	s.events = append(s.events, ev)
}

func (s *recordingSink) kinds() []TraceEventKind {
	kinds := make([]TraceEventKind, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// TestStoreEmitsMemoryAccessTraceBeforeRetired covers the ordering a host
// debugger relies on: a STORE's fetch-start record comes first, its
// memory-access record arrives next, and retirement comes last.
func TestStoreEmitsMemoryAccessTraceBeforeRetired(t *testing.T) {
	c := NewCore(CoreConfig{Profile: ProfileAuthority, TickBudgetCycles: defaultTickBudgetCycles, TracingEnabled: true})
	sink := &recordingSink{}
	c.SetTraceSink(sink)

	c.arch.SetR(1, RAMStart)
	c.arch.SetR(0, 0x55AA)
	// STORE [R1], R0: OP=0x3 SUB=0x0, RD=R0, RA=R1, AM=001 (indirect register)
	writeWordBE(c.mem.bytes[:], 0x0000, 0x3<<12|0x1<<6|0x1)

	out := c.StepOne(nil)
	if out.Kind != Retired {
		t.Fatalf("outcome = %+v, want Retired", out)
	}
	if len(sink.events) != 3 {
		t.Fatalf("events = %+v, want 3 (fetch start, memory access, then retire)", sink.events)
	}
	if sink.events[0].Kind != TraceInstructionStart {
		t.Fatalf("first event.Kind = %v, want TraceInstructionStart", sink.events[0].Kind)
	}
	if sink.events[1].Kind != TraceMemoryAccess || !sink.events[1].Write || sink.events[1].Addr != RAMStart || sink.events[1].Value != 0x55AA {
		t.Fatalf("second event = %+v, want write access to %#04x = 0x55AA", sink.events[1], RAMStart)
	}
	if sink.events[2].Kind != TraceInstructionRetired {
		t.Fatalf("third event.Kind = %v, want TraceInstructionRetired", sink.events[2].Kind)
	}
}

// TestTracingDisabledEmitsNothing covers the no-op gate: without
// TracingEnabled, StepOne never touches the sink at all.
func TestTracingDisabledEmitsNothing(t *testing.T) {
	c := newTestCore()
	sink := &recordingSink{}
	c.SetTraceSink(sink)

	writeWordBE(c.mem.bytes[:], 0x0000, 0x0000) // NOP
	c.StepOne(nil)

	if len(sink.events) != 0 {
		t.Fatalf("events = %+v, want none with TracingEnabled unset", sink.events)
	}
}
