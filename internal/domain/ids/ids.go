package ids

import (
	"crypto/rand"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidRegex = regexp.MustCompile(`(?i)^[0-9A-HJKMNP-TV-Z]{26}$`)

	ErrInvalidULID = errors.New("invalid ULID")
)

// Generator mints ULIDs for sessions, users, projects and organisations.
// Ids minted by one Generator are strictly increasing, so two calls within
// the same millisecond never collide.
//
// A Generator is safe for concurrent use. Build one at startup and share it.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return newGenerator(rand.Reader, time.Now)
}

func newGenerator(source io.Reader, now func() time.Time) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(source, 0),
		now:     now,
	}
}

// New returns the next id as its canonical 26 character string.
func (g *Generator) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Time reports the creation time encoded in a ULID.
func Time(value string) (time.Time, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, ErrInvalidULID
	}
	return ulid.Time(id.Time()), nil
}

func IsULID(value string) bool {
	return ulidRegex.MatchString(strings.TrimSpace(value))
}

func ValidateULID(value string) error {
	if !IsULID(value) {
		return ErrInvalidULID
	}
	return nil
}
