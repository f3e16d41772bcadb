package vcpu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// SnapshotVersion tags the wire format of an exported snapshot so a
// future incompatible layout can be rejected by Import instead of
// silently misinterpreted.
type SnapshotVersion uint8

const SnapshotVersionV1 SnapshotVersion = 1

// snapshotMagic is the fixed 4-byte header every V1 payload starts with,
// spelling "NBDC" (Nullbyte Directive Core) in ASCII.
const snapshotMagic uint32 = 0x4E424443

// headerLen is the byte length of the fixed magic+version header.
const headerLen = 4 + 1

// MagicError is returned by Import when the payload does not start with
// the expected 4-byte magic.
type MagicError struct {
	Got uint32
}

func (e *MagicError) Error() string {
	return fmt.Sprintf("vcpu: snapshot magic mismatch: got %#08x", e.Got)
}

// UnsupportedVersionError is returned by Import for a snapshot whose
// version byte this build does not know how to read.
type UnsupportedVersionError struct {
	Version SnapshotVersion
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("vcpu: unsupported snapshot version %d", e.Version)
}

// TruncatedSnapshotError is returned by Import when the payload is
// shorter than the V1 format requires, whether in the header, a
// sub-record, or the trailing checksum.
type TruncatedSnapshotError struct {
	Want, Got int
}

func (e *TruncatedSnapshotError) Error() string {
	return fmt.Sprintf("vcpu: truncated snapshot: want at least %d bytes, got %d", e.Want, e.Got)
}

// InvalidRunStateError is returned by Import when the run-state tag byte
// names a value outside the four architectural run states.
type InvalidRunStateError struct {
	Tag byte
}

func (e *InvalidRunStateError) Error() string {
	return fmt.Sprintf("vcpu: invalid run-state tag %d", e.Tag)
}

// InvalidEventQueueLengthError is returned by Import when the event
// queue's stored length exceeds the fixed 4-slot capacity.
type InvalidEventQueueLengthError struct {
	Len uint8
}

func (e *InvalidEventQueueLengthError) Error() string {
	return fmt.Sprintf("vcpu: event queue length %d exceeds capacity %d", e.Len, eventQueueCapacity)
}

// ChecksumError is returned by Import when the snapshot's trailing
// checksum does not match the payload that precedes it.
type ChecksumError struct {
	Want, Got uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("vcpu: snapshot checksum mismatch: want %#08x got %#08x", e.Want, e.Got)
}

// Export serializes c into the versioned V1 byte format from spec.md §6:
// a fixed magic+version header, architectural registers in a fixed field
// order, a run-state tag and payload, the event queue, a diagnostics
// block, the full 64 KiB memory image verbatim, and a trailing checksum
// covering every preceding byte. There is no third-party checksum/codec
// library anywhere in the retrieval pack for this kind of flat binary
// record (see DESIGN.md), so encoding/binary and hash/crc32 are used
// directly — the one deliberately stdlib component in this package.
func (c *Core) Export() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(headerLen + 8*2 + 7*2 + 2 + 2 + 5 + 0x10000 + 4)

	binary.Write(buf, binary.BigEndian, snapshotMagic)
	buf.WriteByte(byte(SnapshotVersionV1))

	for i := 0; i < generalRegisterCount; i++ {
		binary.Write(buf, binary.BigEndian, c.arch.R(i))
	}
	binary.Write(buf, binary.BigEndian, c.arch.PC())
	binary.Write(buf, binary.BigEndian, c.arch.SP())
	binary.Write(buf, binary.BigEndian, c.arch.Flags())
	binary.Write(buf, binary.BigEndian, c.arch.Tick())
	binary.Write(buf, binary.BigEndian, c.arch.Cap())
	binary.Write(buf, binary.BigEndian, c.arch.Cause())
	binary.Write(buf, binary.BigEndian, c.arch.EVP())

	buf.WriteByte(byte(c.runState))
	faultPayload := byte(FaultNone)
	if c.runState == FaultLatched {
		faultPayload = byte(c.latchedFault)
	}
	buf.WriteByte(faultPayload)

	evs := c.events.Snapshot()
	buf.WriteByte(evs.Len)
	buf.Write(evs.Events[:])

	writeDiagBlock(buf, c.diag)

	buf.Write(c.mem.Bytes())

	checksum := crc32.ChecksumIEEE(buf.Bytes())
	binary.Write(buf, binary.BigEndian, checksum)

	return buf.Bytes()
}

func writeDiagBlock(buf *bytes.Buffer, d DiagFields) {
	buf.WriteByte(byte(d.LastFaultCode))
	hasFault := byte(0)
	if d.HasFault {
		hasFault = 1
	}
	buf.WriteByte(hasFault)
	binary.Write(buf, binary.BigEndian, d.LastFaultPC)
	binary.Write(buf, binary.BigEndian, d.LastFaultTick)
	binary.Write(buf, binary.BigEndian, d.FaultCountDecode)
	binary.Write(buf, binary.BigEndian, d.FaultCountMemory)
	binary.Write(buf, binary.BigEndian, d.FaultCountMmio)
	binary.Write(buf, binary.BigEndian, d.FaultCountEvent)
	binary.Write(buf, binary.BigEndian, d.FaultCountDispatch)
	binary.Write(buf, binary.BigEndian, d.FaultCountBudget)
	binary.Write(buf, binary.BigEndian, d.FaultCountCapability)
	binary.Write(buf, binary.BigEndian, d.InstructionCount)
	binary.Write(buf, binary.BigEndian, d.DeniedWriteCount)
}

const diagBlockLen = 1 + 1 + 2 + 2 + 2*9

// Import replaces c's entire state with the snapshot encoded in payload,
// after verifying its magic, version, structural lengths, and checksum.
// On any error c is left completely unmodified.
func (c *Core) Import(payload []byte) error {
	const fixedTail = diagBlockLen + 0x10000 + 4 // diag + memory + checksum
	const minLen = headerLen + 8*2 + 7*2 + 2 + 1 + eventQueueCapacity + fixedTail
	if len(payload) < minLen {
		return &TruncatedSnapshotError{Want: minLen, Got: len(payload)}
	}

	r := bytes.NewReader(payload[:len(payload)-4])
	var magic uint32
	binary.Read(r, binary.BigEndian, &magic)
	if magic != snapshotMagic {
		return &MagicError{Got: magic}
	}
	versionByte, _ := r.ReadByte()
	version := SnapshotVersion(versionByte)
	if version != SnapshotVersionV1 {
		return &UnsupportedVersionError{Version: version}
	}

	var arch ArchState
	var gpr [generalRegisterCount]uint16
	for i := range gpr {
		binary.Read(r, binary.BigEndian, &gpr[i])
	}
	var pc, sp, flags, tick, cap, cause, evp uint16
	binary.Read(r, binary.BigEndian, &pc)
	binary.Read(r, binary.BigEndian, &sp)
	binary.Read(r, binary.BigEndian, &flags)
	binary.Read(r, binary.BigEndian, &tick)
	binary.Read(r, binary.BigEndian, &cap)
	binary.Read(r, binary.BigEndian, &cause)
	binary.Read(r, binary.BigEndian, &evp)
	arch.gpr = gpr
	arch.pc, arch.sp, arch.tick, arch.cap, arch.cause, arch.evp = pc, sp, tick, cap, cause, evp
	arch.flags = flags & flagsActiveMask

	runStateTag, _ := r.ReadByte()
	if runStateTag > byte(FaultLatched) {
		return &InvalidRunStateError{Tag: runStateTag}
	}
	runState := RunState(runStateTag)
	faultPayload, _ := r.ReadByte()
	latchedFault := FaultNone
	if runState == FaultLatched {
		latchedFault = FaultCode(faultPayload)
	}

	evLen, _ := r.ReadByte()
	if evLen > eventQueueCapacity {
		return &InvalidEventQueueLengthError{Len: evLen}
	}
	var evIDs [eventQueueCapacity]uint8
	r.Read(evIDs[:])

	diag, err := readDiagBlock(r)
	if err != nil {
		return err
	}

	mem := make([]byte, 0x10000)
	r.Read(mem)

	want := binary.BigEndian.Uint32(payload[len(payload)-4:])
	got := crc32.ChecksumIEEE(payload[:len(payload)-4])
	if got != want {
		return &ChecksumError{Want: want, Got: got}
	}

	c.arch = arch
	copy(c.mem.Bytes(), mem)
	c.events.restore(EventQueueSnapshot{Events: evIDs, Len: evLen})
	c.diag = diag
	c.runState = runState
	c.latchedFault = latchedFault
	c.budgetFaultPending = false
	return nil
}

func readDiagBlock(r *bytes.Reader) (DiagFields, error) {
	var d DiagFields
	lastFaultCode, _ := r.ReadByte()
	d.LastFaultCode = FaultCode(lastFaultCode)
	hasFault, _ := r.ReadByte()
	d.HasFault = hasFault != 0
	binary.Read(r, binary.BigEndian, &d.LastFaultPC)
	binary.Read(r, binary.BigEndian, &d.LastFaultTick)
	binary.Read(r, binary.BigEndian, &d.FaultCountDecode)
	binary.Read(r, binary.BigEndian, &d.FaultCountMemory)
	binary.Read(r, binary.BigEndian, &d.FaultCountMmio)
	binary.Read(r, binary.BigEndian, &d.FaultCountEvent)
	binary.Read(r, binary.BigEndian, &d.FaultCountDispatch)
	binary.Read(r, binary.BigEndian, &d.FaultCountBudget)
	binary.Read(r, binary.BigEndian, &d.FaultCountCapability)
	binary.Read(r, binary.BigEndian, &d.InstructionCount)
	binary.Read(r, binary.BigEndian, &d.DeniedWriteCount)
	return d, nil
}
