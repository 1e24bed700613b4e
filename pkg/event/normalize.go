package event

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecode is returned when a raw record cannot be decoded: its probe
// identity has no resolvable category, or it is shorter than the common
// header plus the type byte. Category-specific tails are read
// best-effort, and an unrecognized type byte maps to TypeOther rather
// than failing. This is counted, and the event is dropped — it is
// never fatal to the caller.
var ErrDecode = errors.New("event: decode error")

// ProbeIdentity is carried by the ring-buffer callback alongside the
// raw record, so the Normalizer can choose a category by consulting
// probe identity rather than guessing from payload layout.
type ProbeIdentity struct {
	Name     string
	Category Category
}

const headerSize = 8 + 4*4 + CommBytes // timestamp + pid/tgid/uid/gid + comm

type wireHeader struct {
	Timestamp uint64
	PID       uint32
	TGID      uint32
	UID       uint32
	GID       uint32
	Comm      [CommBytes]byte
}

// Normalizer converts probe-delivered raw records into canonical
// events.
type Normalizer struct {
	// DroppedDecode counts records that failed to decode. Exposed for
	// the Pipeline Driver's status snapshot.
	DroppedDecode uint64
	// DroppedUnknownCategory counts records whose probe identity could
	// not be resolved to a category.
	DroppedUnknownCategory uint64
	// Truncated counts events whose raw payload or string fields were
	// silently bounded.
	Truncated uint64
}

// Normalize fills out with the canonical fields decoded from raw. On
// failure out is left untouched.
func (n *Normalizer) Normalize(raw []byte, probe ProbeIdentity, out *Event) error {
	if probe.Category == Unknown {
		n.DroppedUnknownCategory++
		return fmt.Errorf("%w: unresolvable probe category for %q", ErrDecode, probe.Name)
	}
	if len(raw) < headerSize+1 {
		n.DroppedDecode++
		return fmt.Errorf("%w: record too short (%d bytes)", ErrDecode, len(raw))
	}

	r := bytes.NewReader(raw)
	var hdr wireHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		n.DroppedDecode++
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var typeID uint8
	if err := binary.Read(r, binary.LittleEndian, &typeID); err != nil {
		n.DroppedDecode++
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	evType, ok := eventTypeFor(probe.Category, typeID)
	if !ok {
		n.DroppedDecode++
		return fmt.Errorf("%w: unknown type id %d for category %s", ErrDecode, typeID, probe.Category)
	}

	var (
		filename  string
		truncated bool
	)

	switch probe.Category {
	case ExecFS, System, Vulnerability, Update:
		var fn [FilenameBytes]byte
		if _, err := r.Read(fn[:]); err == nil {
			filename = TrimNulTerminated(fn[:])
		}
	case Network:
		var net struct {
			SrcIP   uint32
			DstIP   uint32
			SrcPort uint16
			DstPort uint16
			Proto   uint8
		}
		_ = binary.Read(r, binary.LittleEndian, &net) // best-effort tail, absence is not an error
	case Security:
		var sec struct {
			TargetPID uint32
			NewUID    int64
			NewGID    int64
		}
		_ = binary.Read(r, binary.LittleEndian, &sec)
	}

	comm := TrimNulTerminated(hdr.Comm[:])
	if bounded, wasTrunc := BoundString(comm, CommBytes); wasTrunc {
		comm = bounded
		truncated = true
	}
	if bounded, wasTrunc := BoundString(filename, FilenameBytes); wasTrunc {
		filename = bounded
		truncated = true
	}

	rawBound, rawTrunc := BoundBytes(raw, RawCapacity)
	if rawTrunc {
		truncated = true
	}
	if truncated {
		n.Truncated++
	}

	ts := int64(hdr.Timestamp)
	if ts == 0 {
		ts = Now()
	}

	out.Timestamp = ts
	out.Category = probe.Category
	out.Type = evType
	out.Severity = DefaultSeverity(probe.Category)
	out.PID = hdr.PID
	out.TGID = hdr.TGID
	out.UID = hdr.UID
	out.GID = hdr.GID
	out.Comm = comm
	out.Filename = filename
	out.Raw = rawBound
	out.RawSize = len(raw)
	out.Truncated = truncated
	out.Processed = false
	out.ProcessedTime = 0

	return nil
}

// eventTypeFor maps a category-scoped wire type id to the canonical
// EventType. Each category has its own id space because the kernel
// probe sources assign ids independently per tracepoint family.
func eventTypeFor(c Category, id uint8) (EventType, bool) {
	switch c {
	case ExecFS:
		switch id {
		case 0:
			return TypeProcessSpawn, true
		case 1:
			return TypeFileAccessExecutable, true
		case 2:
			return TypeFileCreate, true
		case 3:
			return TypeFileDelete, true
		case 4:
			return TypeFileModify, true
		default:
			return TypeOther, true
		}
	case Network:
		switch id {
		case 0:
			return TypeNetConnect, true
		case 1:
			return TypeNetListen, true
		case 2:
			return TypeNetDataTransfer, true
		case 3:
			return TypeNetError, true
		default:
			return TypeOther, true
		}
	case System:
		switch id {
		case 0:
			return TypeProcessExit, true
		case 1:
			return TypeProcessCwdChange, true
		case 2:
			return TypeProcessEnvChange, true
		case 3:
			return TypeProcessSignal, true
		case 4:
			return TypeProcessPriorityChange, true
		case 5:
			return TypeProcessGroupOp, true
		case 6:
			return TypeProcessSessionOp, true
		case 7:
			return TypeProcessAffinityChange, true
		case 8:
			return TypeProcessMemMap, true
		default:
			return TypeOther, true
		}
	case Security:
		switch id {
		case 0:
			return TypeCredentialChange, true // core_system.bpf.c's simplified setuid event
		case 1:
			return TypePrivilegeEscalation, true
		case 2:
			return TypeAuthEvent, true
		case 3:
			return TypeFailedOp, true
		case 4:
			return TypeSuspiciousSyscall, true
		case 5:
			return TypeCapabilityChange, true
		case 6:
			return TypeSecurityContextChange, true
		case 7:
			return TypeAuditEvent, true
		case 8:
			return TypePolicyViolation, true
		default:
			return TypeOther, true
		}
	case Vulnerability, Update:
		return TypeOther, true
	default:
		return TypeOther, false
	}
}
