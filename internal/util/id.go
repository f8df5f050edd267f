// internal/util/id.go
// uProtocol UUID minting based on ULID (Universally Unique Lexicographically
// Sortable Identifier).  ULIDs are 128-bit and preserve chronological order,
// which makes generated request ids easy to correlate in logs while staying
// unique across processes.
//
// To avoid excessive syscalls we keep a process-global monotonic entropy
// source (math/rand wrapped by ulid.Monotonic) seeded from crypto/rand.
package util

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Voskan/uplink/pkg/uprotocol"
)

var entropy *ulid.MonotonicEntropy

func init() {
	// Seed math/rand with crypto-secure random so that the monotonic generator
	// starts at an unpredictable state while remaining cheap thereafter.
	var seed int64
	_ = binaryRead(rand.Reader, &seed)
	entropy = ulid.Monotonic(mrand.New(mrand.NewSource(seed)), 0)
}

// NewUUID mints a uProtocol UUID from a fresh ULID: the 16 ULID bytes split
// big-endian into the msb/lsb halves.
func NewUUID() (uprotocol.UUID, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return uprotocol.UUID{}, err
	}
	return uprotocol.UUID{
		Msb: binary.BigEndian.Uint64(id[0:8]),
		Lsb: binary.BigEndian.Uint64(id[8:16]),
	}, nil
}

// MustNewUUID panics on failure (entropy read errors).
func MustNewUUID() uprotocol.UUID {
	u, err := NewUUID()
	if err != nil {
		panic(err)
	}
	return u
}

// binaryRead is a tiny helper to read crypto/rand into any fixed-size integer.
func binaryRead(r io.Reader, v interface{}) error {
	return binary.Read(r, binary.BigEndian, v)
}
