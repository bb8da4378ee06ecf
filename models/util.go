package models

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Snowflake generates unique 64-bit IDs composed of timestamp and node/sequence bits.
// Layout: 1 bit unused + 41 bits timestamp(ms since custom epoch) + 10 bits node + 12 bits sequence.
type Snowflake struct {
	epoch  int64
	nodeID int64 // 10 bits
	lastMs int64
	seq    int64 // 12 bits
	mu     sync.Mutex
}

func NewSnowflake(nodeID int64) *Snowflake {
	return &Snowflake{epoch: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), nodeID: nodeID & 0x3FF}
}

func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	if now < s.lastMs {
		// clock stepped back; keep ids monotonic
		now = s.lastMs
	}
	if now == s.lastMs {
		s.seq = (s.seq + 1) & 0xFFF
		if s.seq == 0 {
			for now <= s.lastMs {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.seq = 0
	}
	s.lastMs = now
	ts := (now - s.epoch) & ((1 << 41) - 1)
	return (ts << (10 + 12)) | (s.nodeID << 12) | s.seq
}

// ids is the process-wide generator behind NewID.
var ids = NewSnowflake(1)

// SetNode replaces the generator node id. Call it once at startup when more
// than one instance writes to the same database.
func SetNode(nodeID int64) {
	ids = NewSnowflake(nodeID)
}

// NewID returns a fresh entity identifier: a snowflake encoded as a
// hyphenless UUIDv4-shaped 32-char string.
func NewID() string {
	return SnowflakeToUUID4(uint64(ids.Next()))
}

// SnowflakeToUUID4 encodes a 64-bit snowflake ID into a UUIDv4-formatted string without hyphens.
// High 16 bits go to bytes 4-5 and low 48 bits to bytes 10-15, leaving version/variant intact.
func SnowflakeToUUID4(id uint64) string {
	var b [16]byte
	binary.BigEndian.PutUint16(b[4:6], uint16(id>>48))
	var lo [8]byte
	binary.BigEndian.PutUint64(lo[:], id&0x0000FFFFFFFFFFFF)
	copy(b[10:16], lo[2:8])

	b[6] = (b[6] & 0x0F) | 0x40
	b[8] = (b[8] & 0x3F) | 0x80
	return hex.EncodeToString(b[:])
}

// UUID4ToSnowflake decodes an id produced by SnowflakeToUUID4. Hyphens and
// upper case are accepted.
func UUID4ToSnowflake(id string) (uint64, error) {
	s := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	if len(s) != 32 {
		return 0, fmt.Errorf("invalid id length: %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	hi := uint64(binary.BigEndian.Uint16(b[4:6]))
	var lo [8]byte
	copy(lo[2:8], b[10:16])
	return hi<<48 | binary.BigEndian.Uint64(lo[:]), nil
}
