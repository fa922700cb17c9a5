package llmclient

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// jitteredBackOff doubles its delay on every attempt, starting from an
// initial interval, and adds a bounded random jitter so concurrent
// sessions hitting a shared rate limit do not retry in lockstep.
type jitteredBackOff struct {
	initial time.Duration
	jitter  time.Duration
	next    time.Duration
}

var _ backoff.BackOff = (*jitteredBackOff)(nil)

func newJitteredBackOff(initial, jitter time.Duration) *jitteredBackOff {
	return &jitteredBackOff{initial: initial, jitter: jitter, next: initial}
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	d := b.next
	if b.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.jitter)))
	}
	b.next *= 2
	return d
}

func (b *jitteredBackOff) Reset() {
	b.next = b.initial
}
