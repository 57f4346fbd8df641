package flume

import (
	"encoding/binary"
	"fmt"
)

// recoveryInfo is the commit metadata blob. The wire format is stable:
//
//	[ int32 version ][ int64 beginAddress ][ int64 flushedUntilAddress ]
//	[ int32 iteratorCount ]
//	  repeated: [ uint16 nameLen ][ name utf-8 ][ int64 completedUntil ]
//
// all little-endian.
type recoveryInfo struct {
	Begin        int64
	FlushedUntil int64
	Iterators    map[string]int64
}

const recoveryVersion = 1

func (ri recoveryInfo) encode() []byte {
	n := 4 + 8 + 8 + 4
	for name := range ri.Iterators {
		n += 2 + len(name) + 8
	}
	b := make([]byte, 0, n)
	b = binary.LittleEndian.AppendUint32(b, recoveryVersion)
	b = binary.LittleEndian.AppendUint64(b, uint64(ri.Begin))
	b = binary.LittleEndian.AppendUint64(b, uint64(ri.FlushedUntil))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(ri.Iterators)))
	// Deterministic blob bytes are not required; iteration order is fine.
	for name, addr := range ri.Iterators {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(name)))
		b = append(b, name...)
		b = binary.LittleEndian.AppendUint64(b, uint64(addr))
	}
	return b
}

func decodeRecoveryInfo(b []byte) (recoveryInfo, error) {
	var ri recoveryInfo
	if len(b) < 24 {
		return ri, fmt.Errorf("flume: commit metadata truncated (%d bytes)", len(b))
	}
	if v := int32(binary.LittleEndian.Uint32(b)); v != recoveryVersion {
		return ri, fmt.Errorf("flume: unsupported commit metadata version %d", v)
	}
	ri.Begin = int64(binary.LittleEndian.Uint64(b[4:]))
	ri.FlushedUntil = int64(binary.LittleEndian.Uint64(b[12:]))
	count := int(binary.LittleEndian.Uint32(b[20:]))
	ri.Iterators = make(map[string]int64, count)
	off := 24
	for i := 0; i < count; i++ {
		if off+2 > len(b) {
			return ri, fmt.Errorf("flume: commit metadata truncated in iterator table")
		}
		nameLen := int(binary.LittleEndian.Uint16(b[off:]))
		off += 2
		if off+nameLen+8 > len(b) {
			return ri, fmt.Errorf("flume: commit metadata truncated in iterator table")
		}
		name := string(b[off : off+nameLen])
		off += nameLen
		ri.Iterators[name] = int64(binary.LittleEndian.Uint64(b[off:]))
		off += 8
	}
	if ri.Begin < 0 || ri.FlushedUntil < ri.Begin {
		return ri, fmt.Errorf("flume: commit metadata inconsistent: begin=%d flushedUntil=%d", ri.Begin, ri.FlushedUntil)
	}
	return ri, nil
}
