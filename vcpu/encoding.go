package vcpu

// OpcodeClass groups the primary OP nibble (bits 15-12) by family. The
// value is the OP nibble itself.
type OpcodeClass uint8

const (
	ClassControl   OpcodeClass = 0x0
	ClassMov       OpcodeClass = 0x1
	ClassLoad      OpcodeClass = 0x2
	ClassStore     OpcodeClass = 0x3
	ClassAlu       OpcodeClass = 0x4
	ClassMathHelper OpcodeClass = 0x5
	ClassBranch    OpcodeClass = 0x6
	ClassStack     OpcodeClass = 0x7
	ClassMmio      OpcodeClass = 0x8
	ClassAtomicMmio OpcodeClass = 0x9
	ClassEvent     OpcodeClass = 0xA
)

// isReservedPrimaryOpcode reports whether op (the 4-bit OP field) is
// architecturally reserved; every (op, sub) pair with a reserved op is
// illegal regardless of sub.
func isReservedPrimaryOpcode(op uint8) bool {
	return op >= 0xB && op <= 0xF
}

// Encoding is the canonical assigned (OP, SUB) encoding for one mnemonic.
// A (op, sub) pair with no entry in opcodeTable is illegal by definition.
type Encoding int

const (
	EncNop Encoding = iota
	EncSync
	EncHalt
	EncTrap
	EncSwi
	EncMov
	EncLoad
	EncStore
	EncAdd
	EncSub
	EncAnd
	EncOr
	EncXor
	EncShl
	EncShr
	EncCmp
	EncMul
	EncMulh
	EncDiv
	EncMod
	EncQadd
	EncQsub
	EncScv
	EncBeq
	EncBne
	EncBlt
	EncBle
	EncBgt
	EncBge
	EncJmp
	EncCallOrRet
	EncPush
	EncPop
	EncIn
	EncOut
	EncBset
	EncBclr
	EncBtest
	EncEwait
	EncEget
	EncEret
)

type opcodeTableEntry struct {
	op  uint8
	sub uint8
	enc Encoding
}

// opcodeTable is the single source of truth for legal (OP, SUB) pairs.
// Every (op, sub) combination in 0x0-0xF / 0x0-0x7 not listed here is
// illegal and decodes to FaultIllegalEncoding.
var opcodeTable = []opcodeTableEntry{
	{0x0, 0x0, EncNop},
	{0x0, 0x1, EncSync},
	{0x0, 0x2, EncHalt},
	{0x0, 0x3, EncTrap},
	{0x0, 0x4, EncSwi},
	{0x1, 0x0, EncMov},
	{0x2, 0x0, EncLoad},
	{0x3, 0x0, EncStore},
	{0x4, 0x0, EncAdd},
	{0x4, 0x1, EncSub},
	{0x4, 0x2, EncAnd},
	{0x4, 0x3, EncOr},
	{0x4, 0x4, EncXor},
	{0x4, 0x5, EncShl},
	{0x4, 0x6, EncShr},
	{0x4, 0x7, EncCmp},
	{0x5, 0x0, EncMul},
	{0x5, 0x1, EncMulh},
	{0x5, 0x2, EncDiv},
	{0x5, 0x3, EncMod},
	{0x5, 0x4, EncQadd},
	{0x5, 0x5, EncQsub},
	{0x5, 0x6, EncScv},
	{0x6, 0x0, EncBeq},
	{0x6, 0x1, EncBne},
	{0x6, 0x2, EncBlt},
	{0x6, 0x3, EncBle},
	{0x6, 0x4, EncBgt},
	{0x6, 0x5, EncBge},
	{0x6, 0x6, EncJmp},
	{0x6, 0x7, EncCallOrRet},
	{0x7, 0x0, EncPush},
	{0x7, 0x1, EncPop},
	{0x8, 0x0, EncIn},
	{0x8, 0x1, EncOut},
	{0x9, 0x0, EncBset},
	{0x9, 0x1, EncBclr},
	{0x9, 0x2, EncBtest},
	{0xA, 0x0, EncEwait},
	{0xA, 0x1, EncEget},
	{0xA, 0x2, EncEret},
}

// classifyOpcode returns the assigned encoding for (op, sub), or false if
// the pair is unassigned/reserved.
func classifyOpcode(op, sub uint8) (Encoding, bool) {
	if op > 0xF || sub > 0x7 {
		return 0, false
	}
	for _, e := range opcodeTable {
		if e.op == op && e.sub == sub {
			return e.enc, true
		}
	}
	return 0, false
}

// decodePrimaryOpSub extracts the OP (bits 15-12) and SUB (bits 5-3)
// fields from the primary instruction word.
func decodePrimaryOpSub(word uint16) (op, sub uint8) {
	return uint8(word>>12) & 0x0F, uint8(word>>3) & 0x07
}
