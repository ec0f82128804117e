// Package backoff implements the fixed exponential retry schedule used by
// the orchestrator's network-change recovery (spec.md §4.4): 3s, 6s, 12s,
// capped at three retries.
package backoff

import "time"

// Option configures a Sequence, following the functional-options idiom the
// teacher uses for its own pacer.
type Option func(*Sequence)

// WithInitial sets the first retry's delay. Defaults to 3s.
func WithInitial(d time.Duration) Option {
	return func(s *Sequence) { s.initial = d }
}

// WithFactor sets the multiplier applied to the delay after each retry.
// Defaults to 2.
func WithFactor(f float64) Option {
	return func(s *Sequence) { s.factor = f }
}

// WithMaxRetries caps the number of retries Sequence.Next will hand out.
// Defaults to 3.
func WithMaxRetries(n int) Option {
	return func(s *Sequence) { s.maxRetries = n }
}

// Sequence produces the fixed exponential backoff delays for
// on_network_change retry handling. It is not safe for concurrent use; the
// orchestrator owns one Sequence per blast attempt.
type Sequence struct {
	initial    time.Duration
	factor     float64
	maxRetries int

	attempt int
	current time.Duration
}

// New constructs a Sequence with the spec.md §4.4 defaults: 3s initial
// delay, factor 2 (giving 3s, 6s, 12s), three retries maximum.
func New(opts ...Option) *Sequence {
	s := &Sequence{
		initial:    3 * time.Second,
		factor:     2,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current = s.initial
	return s
}

// Next returns the delay for the next retry attempt and true, or zero and
// false once maxRetries has been exhausted (NetworkChangeRetryExhausted,
// spec.md §7).
func (s *Sequence) Next() (time.Duration, bool) {
	if s.attempt >= s.maxRetries {
		return 0, false
	}

	delay := s.current
	s.attempt++
	s.current = time.Duration(float64(s.current) * s.factor)
	return delay, true
}

// Attempt reports how many delays have been handed out so far.
func (s *Sequence) Attempt() int {
	return s.attempt
}

// Exhausted reports whether maxRetries delays have already been handed out.
func (s *Sequence) Exhausted() bool {
	return s.attempt >= s.maxRetries
}

// Reset returns the sequence to its initial state, for reuse across blast
// attempts.
func (s *Sequence) Reset() {
	s.attempt = 0
	s.current = s.initial
}
