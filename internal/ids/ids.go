package ids

import (
	"errors"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrMalformed is returned when a reference is not a 24-character hex string.
var ErrMalformed = errors.New("ids: malformed identifier")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier used for request correlation.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewObjectID returns a fresh document identifier.
func NewObjectID() primitive.ObjectID {
	return primitive.NewObjectID()
}

// ParseObjectID validates and decodes an opaque document reference.
func ParseObjectID(raw string) (primitive.ObjectID, error) {
	if len(raw) != 24 {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	return id, nil
}
