package session

import (
	cryptorand "crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu   sync.Mutex
	ulidEntropy = ulid.Monotonic(cryptorand.Reader, 0)

	nameSanitizer = regexp.MustCompile(`[^a-z0-9\-]+`)
)

func newULID(at time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), ulidEntropy)
}

// NewCycleID returns a lexically sortable identifier for one prompt cycle.
func NewCycleID() string {
	return strings.ToLower(newULID(time.Now()).String())
}

// GenerateInstanceID returns a unique process identifier using base as a prefix.
func GenerateInstanceID(base string) string {
	base = strings.ToLower(strings.TrimSpace(base))
	base = strings.ReplaceAll(base, " ", "-")
	base = nameSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "relay"
	}
	return fmt.Sprintf("%s-%s", base, NewCycleID())
}

// CycleTime extracts the creation time encoded in a cycle ID.
func CycleTime(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(strings.ToUpper(id))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cycle id %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()), nil
}
