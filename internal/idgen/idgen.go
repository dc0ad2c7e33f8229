// Package idgen generates the internal correlation ids the orchestrator
// stamps onto a StreamContext, distinct from any client-supplied
// x-request-id (§3, §9).
//
// Adapted from the teacher's pkg/utils/id.go ObjectID-style generator:
// same 12-byte time+random+counter layout, repurposed here solely for
// StreamContext.ContextID rather than the teacher's session/debug file
// naming.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"
)

var counter uint32

// New returns a 24-character hex id: a 4-byte unix timestamp, 5 random
// bytes, and a 3-byte rolling counter, so ids sort roughly by creation
// time without needing a shared clock.
func New() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(time.Now().Unix()))
	_, _ = rand.Read(b[4:9])
	c := atomic.AddUint32(&counter, 1) % 0xFFFFFF
	b[9] = byte(c >> 16)
	b[10] = byte(c >> 8)
	b[11] = byte(c)
	return hex.EncodeToString(b[:])
}
