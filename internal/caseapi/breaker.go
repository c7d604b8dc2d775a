package caseapi

import (
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/vetdesk/internal/config"
)

// BreakerState is the state of the case API circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets requests through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests without calling the case API.
	BreakerOpen
	// BreakerHalfOpen lets trial requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// errBreakerOpen is returned by Allow while the breaker is open.
var errBreakerOpen = errors.New("caseapi: circuit breaker is open")

// minErrorRateSamples is the minimum window size before the error rate is
// evaluated.
const minErrorRateSamples = 10

// Breaker trips on consecutive failures or on the error rate within a
// tumbling window. It is safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time

	errorRateThreshold float64
	errorRateWindow    time.Duration
	windowStart        time.Time
	windowTotal        int
	windowFailures     int

	now           func() time.Time
	onStateChange func(BreakerState)
}

// NewBreaker builds a breaker from config. Zero thresholds fall back to 5
// failures, 2 trial successes and a 30s open period.
func NewBreaker(cfg config.CircuitBreakerConfig) *Breaker {
	b := &Breaker{
		state:              BreakerClosed,
		failureThreshold:   cfg.FailureThreshold,
		successThreshold:   cfg.SuccessThreshold,
		timeout:            cfg.Timeout,
		errorRateThreshold: cfg.ErrorRateThreshold,
		errorRateWindow:    cfg.ErrorRateWindow,
		now:                time.Now,
	}
	if b.failureThreshold < 1 {
		b.failureThreshold = 5
	}
	if b.successThreshold < 1 {
		b.successThreshold = 2
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}
	b.windowStart = b.now()
	return b
}

// OnStateChange registers fn to be called, with the lock held, whenever the
// breaker changes state. fn must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(BreakerState)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Allow returns nil when a request may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) > b.timeout {
			b.successes = 0
			b.transition(BreakerHalfOpen)
			return nil
		}
		return errBreakerOpen
	default:
		return nil
	}
}

// RecordSuccess records a request that reached the case API and was answered
// without a server error.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
		b.recordWindowCall(false)
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.failures = 0
			b.successes = 0
			b.resetWindow()
			b.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a transport failure or a 5xx answer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		b.recordWindowCall(true)
		if b.failures >= b.failureThreshold || b.errorRateExceeded() {
			b.openedAt = b.now()
			b.resetWindow()
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.openedAt = b.now()
		b.successes = 0
		b.transition(BreakerOpen)
	}
}

// State returns the current state, moving Open to HalfOpen once the open
// period has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) > b.timeout {
		b.successes = 0
		b.transition(BreakerHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(to)
	}
}

func (b *Breaker) recordWindowCall(isFailure bool) {
	if b.errorRateWindow <= 0 {
		return
	}
	if b.now().Sub(b.windowStart) > b.errorRateWindow {
		b.resetWindow()
	}
	b.windowTotal++
	if isFailure {
		b.windowFailures++
	}
}

func (b *Breaker) resetWindow() {
	b.windowStart = b.now()
	b.windowTotal = 0
	b.windowFailures = 0
}

func (b *Breaker) errorRateExceeded() bool {
	if b.errorRateThreshold <= 0 || b.errorRateWindow <= 0 {
		return false
	}
	if b.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(b.windowFailures)/float64(b.windowTotal) >= b.errorRateThreshold
}
