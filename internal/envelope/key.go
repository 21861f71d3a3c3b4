package envelope

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewKey returns a fresh correlation key: the send time in milliseconds
// followed by a random suffix, encoded as a 26-character ULID.
func NewKey() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// KeyTime returns the send time embedded in a key.
func KeyTime(key string) (time.Time, bool) {
	id, err := ulid.ParseStrict(key)
	if err != nil {
		return time.Time{}, false
	}

	return ulid.Time(id.Time()), true
}

// NowMillis returns the current unix time in milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
