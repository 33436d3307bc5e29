// Package ids generates record identifiers.
package ids

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nrednav/cuid2"
)

const (
	uniqueIDLength = 24
	fingerprint    = "safetrain-videos"
)

// counterFunc adapts a function to the session counter cuid2 expects.
type counterFunc func() int64

func (f counterFunc) Increment() int64 { return f() }

// sequence returns a goroutine-safe counter starting after start.
func sequence(start int64) counterFunc {
	var n atomic.Int64
	n.Store(start)
	return func() int64 { return n.Add(1) }
}

// NewUniqueIDGenerator returns a generator of length-character ids whose session
// counter starts at start.
func NewUniqueIDGenerator(length int, start int64) (func() string, error) {
	next, err := cuid2.Init(
		cuid2.WithRandomFunc(rand.Float64),
		cuid2.WithLength(length),
		cuid2.WithFingerprint(fingerprint),
		cuid2.WithSessionCounter(sequence(start)),
	)
	if err != nil {
		return nil, fmt.Errorf("unique id generator: %w", err)
	}
	return next, nil
}

var defaultGenerator = sync.OnceValue(func() func() string {
	next, err := NewUniqueIDGenerator(uniqueIDLength, time.Now().UnixNano())
	if err != nil {
		// uniqueIDLength is a valid constant length.
		panic(err)
	}
	return next
})

// NewID returns a server-side record id.
func NewID() string {
	return uuid.New().String()
}

// NewUniqueID returns a shareable id that reveals nothing about creation order.
func NewUniqueID() string {
	return defaultGenerator()()
}
