package storage

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewKeyID returns a lowercase ULID. IDs sort by creation time, which keeps
// stored objects listable in upload order.
func NewKeyID() string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return strings.ToLower(id.String())
}

// KeyTime extracts the creation time from a key produced by NewKeyID.
func KeyTime(key string) (time.Time, bool) {
	base := key
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	id, err := ulid.ParseStrict(strings.ToUpper(base))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
