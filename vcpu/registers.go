package vcpu

// generalRegisterCount is the number of architecturally visible
// general-purpose registers, R0..R7.
const generalRegisterCount = 8

// Flag bit positions within FLAGS. Z/N/C/V are the usual arithmetic
// flags; I is the event-dispatch enable bit checked by dispatch.go.
const (
	FlagZ uint16 = 0x01
	FlagN uint16 = 0x02
	FlagC uint16 = 0x04
	FlagV uint16 = 0x08
	FlagI uint16 = 0x10
)

// flagsActiveMask is the set of bits FLAGS actually uses; anything the
// guest writes outside this mask is discarded on ERET/dispatch restore.
const flagsActiveMask uint16 = FlagZ | FlagN | FlagC | FlagV | FlagI

// Capability bits gate a handful of optional opcode classes. CapEVTQ
// gates EWAIT/EGET, CapATOM gates BSET/BCLR/BTEST, CapFXH gates
// MULH/QADD/QSUB/SCV.
const (
	CapEVTQ uint8 = 0
	CapATOM uint8 = 1
	CapFXH  uint8 = 2
)

// Profile-default capability masks. Authority is the default runtime
// profile; Restricted is used for capability-gating tests and adapters
// that want the gated opcode classes to fault until explicitly granted.
const (
	capAuthorityDefaultMask uint16 = 0x0007 // CAP_EVTQ | CAP_ATOM | CAP_FXH
	capRestrictedDefaultMask uint16 = 0x0000
)

// Profile selects the baseline capability mask a Core resets to.
type Profile int

const (
	ProfileAuthority Profile = iota
	ProfileRestricted
)

func (p Profile) defaultCapabilityMask() uint16 {
	switch p {
	case ProfileRestricted:
		return capRestrictedDefaultMask
	default:
		return capAuthorityDefaultMask
	}
}

// ArchState is the full architectural register file: eight
// general-purpose registers plus the special registers PC, SP, FLAGS,
// TICK, CAP, CAUSE, and EVP. Like the teacher's Registers, every field is
// reached through a paired accessor method rather than exported directly,
// except CAP and EVP, which the ISA never lets the guest write directly —
// those stay reachable only through core-internal setters (setCap,
// setEVP) per spec.md §3's read-only invariant. EVP is the event-pending
// bitmap: bit i reflects whether the event queue currently holds at least
// i+1 entries (queue occupancy, not a per-event-ID bit — the queue's
// 8-bit ID space is wider than the 16-bit bitmap could represent 1:1).
// The dispatch vectors (VEC_TRAP/VEC_EVENT/VEC_FAULT) are not registers at
// all; they are fixed ROM addresses the dispatch engine reads through
// directly, per spec.md §4.4/GLOSSARY's "fixed ROM address" definition.
type ArchState struct {
	gpr   [generalRegisterCount]uint16
	pc    uint16
	sp    uint16
	flags uint16
	tick  uint16
	cap   uint16
	cause uint16
	evp   uint16
}

func (a *ArchState) R(i int) uint16     { return a.gpr[i] }
func (a *ArchState) SetR(i int, v uint16) { a.gpr[i] = v }

func (a *ArchState) PC() uint16        { return a.pc }
func (a *ArchState) SetPC(v uint16)    { a.pc = v }

func (a *ArchState) SP() uint16     { return a.sp }
func (a *ArchState) SetSP(v uint16) { a.sp = v }

func (a *ArchState) Flags() uint16     { return a.flags }
func (a *ArchState) SetFlags(v uint16) { a.flags = v & flagsActiveMask }

func (a *ArchState) FlagIsSet(bit uint16) bool { return a.flags&bit != 0 }

func (a *ArchState) Tick() uint16     { return a.tick }
func (a *ArchState) SetTick(v uint16) { a.tick = v }

func (a *ArchState) Cap() uint16 { return a.cap }
func (a *ArchState) setCap(v uint16) { a.cap = v }

func (a *ArchState) Cause() uint16     { return a.cause }
func (a *ArchState) SetCause(v uint16) { a.cause = v }

func (a *ArchState) EVP() uint16   { return a.evp }
func (a *ArchState) setEVP(v uint16) { a.evp = v }

// CapabilityEnabled reports whether the given capability bit is set in
// CAP.
func (a *ArchState) CapabilityEnabled(bit uint8) bool {
	return a.cap&(1<<bit) != 0
}

// evpFromQueueLen computes the event-pending bitmap for a queue currently
// holding n entries: bits 0..n-1 set, the rest clear.
func evpFromQueueLen(n uint8) uint16 {
	if n == 0 {
		return 0
	}
	return uint16(1)<<n - 1
}

// resetToProfile clears every register to its architectural reset value,
// points SP at the RAM/MMIO boundary (top of RAM, so the first push lands
// at 0xDFFE), and sets CAP to the profile's default mask (DESIGN.md Open
// Question 2).
func (a *ArchState) resetToProfile(profile Profile) {
	*a = ArchState{}
	a.sp = MMIOStart
	a.cap = profile.defaultCapabilityMask()
}
