package event

import (
	"bytes"
	"encoding/binary"
)

// EncodeExecFSRecord builds a raw wire record in the exec-fs category's
// layout, the mirror image of Normalize's decode path. It exists so
// that a non-eBPF source of exec-fs visibility — the fsnotify fallback
// in pkg/probe — can hand the Normalizer the same shape of record a
// real kernel probe would.
func EncodeExecFSRecord(ts uint64, pid, tgid, uid, gid uint32, comm string, typeID uint8, filename string) []byte {
	buf := &bytes.Buffer{}
	hdr := wireHeader{Timestamp: ts, PID: pid, TGID: tgid, UID: uid, GID: gid}
	copy(hdr.Comm[:], comm)
	binary.Write(buf, binary.LittleEndian, &hdr)
	buf.WriteByte(typeID)

	var fn [FilenameBytes]byte
	copy(fn[:], filename)
	buf.Write(fn[:])

	return buf.Bytes()
}
