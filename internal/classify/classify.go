// Package classify maps lower-layer NNTP/decode failures to the
// semantic error taxonomy spec.md §4.9 defines, and drives the circuit
// breaker that protects the connection pool from hammering a provider
// that is down or has revoked credentials.
//
// Grounded on internal/errors.NonRetryableError (the ambient
// retryable/non-retryable vocabulary already present in the teacher)
// and on usenet_reader.go's isArticleNotFoundError pattern of
// recognizing a specific sentinel via errors.Is before falling back to
// a generic treatment.
package classify

import (
	"context"
	"errors"
	"sync"
	"time"

	usenetstreamerrors "github.com/javi11/usenetstream/internal/errors"
	"github.com/javi11/usenetstream/internal/nntp"
)

// Kind is one row of spec.md §4.9's table.
type Kind string

const (
	ArticleMissing Kind = "ArticleMissing"
	ArticleRefused Kind = "ArticleRefused"
	Transient      Kind = "Transient"
	AuthFailed     Kind = "AuthFailed"
	OverLimit      Kind = "OverLimit"
	Cancelled      Kind = "Cancelled"
	Fatal          Kind = "Fatal"
)

// CircuitConfig sizes the breaker's trip/reset behavior.
type CircuitConfig struct {
	FailureThreshold int           // consecutive failures to trip open, default 5
	AuthBackoff      time.Duration // default 60s
	LimitBackoff     time.Duration // default 5s
	TransientBackoff time.Duration // half-open wait after a generic trip, default 30s
}

func (c CircuitConfig) withDefaults() CircuitConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.AuthBackoff <= 0 {
		c.AuthBackoff = 60 * time.Second
	}
	if c.LimitBackoff <= 0 {
		c.LimitBackoff = 5 * time.Second
	}
	if c.TransientBackoff <= 0 {
		c.TransientBackoff = 30 * time.Second
	}
	return c
}

type circuitState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// Classifier implements nntp.Classifier: it turns a raw error into a
// Kind and tracks a per-provider circuit breaker (open/half-open/closed)
// that Order (internal/affinity) and Fetch (internal/nntp) both consult
// before trying a provider.
type Classifier struct {
	cfg CircuitConfig

	mu        sync.Mutex
	providers map[int]*circuitState
}

// New constructs a Classifier with the given circuit-breaker tuning.
func New(cfg CircuitConfig) *Classifier {
	return &Classifier{cfg: cfg.withDefaults(), providers: make(map[int]*circuitState)}
}

// Classify maps err to a Kind and whether/how a retry should proceed.
// This satisfies internal/nntp.Classifier.
func (c *Classifier) Classify(err error) nntp.Classification {
	kind := c.classifyKind(err)

	switch kind {
	case Cancelled:
		return nntp.Classification{Kind: string(Cancelled), Retryable: false}
	case Fatal:
		return nntp.Classification{Kind: string(Fatal), Retryable: false}
	case ArticleMissing, ArticleRefused:
		return nntp.Classification{Kind: string(kind), Retryable: false}
	case AuthFailed, OverLimit:
		return nntp.Classification{Kind: string(kind), Retryable: false}
	default: // Transient
		return nntp.Classification{Kind: string(Transient), Retryable: true, SameProvider: true}
	}
}

func (c *Classifier) classifyKind(err error) Kind {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	if errors.Is(err, nntp.ErrCancelled) {
		return Cancelled
	}
	var authErr *nntp.AuthError
	if errors.As(err, &authErr) {
		return AuthFailed
	}
	if errors.Is(err, nntp.ErrPoolTimeout) {
		return OverLimit
	}
	if usenetstreamerrors.IsNonRetryable(err) {
		return Fatal
	}

	// A dot-stuffed BODY rejection carries its status via the nntp
	// package's Conn.Body return value, not via a sentinel error, so
	// the fetcher records which ArticleStatus it saw; callers that only
	// have the error (e.g. offline analysis) fall through to Transient,
	// which is the conservative choice (retry rather than give up).
	return Transient
}

// RecordOutcome updates the circuit breaker for providerIdx from a raw
// fetch error (nil on success). This satisfies internal/nntp.Classifier.
func (c *Classifier) RecordOutcome(providerIdx int, err error) {
	var kind Kind
	if err != nil {
		kind = c.classifyKind(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.providers[providerIdx]
	if !ok {
		st = &circuitState{}
		c.providers[providerIdx] = st
	}

	switch kind {
	case "":
		st.consecutiveFailures = 0
		st.openUntil = time.Time{}
	case AuthFailed:
		st.openUntil = time.Now().Add(c.cfg.AuthBackoff)
	case OverLimit:
		st.openUntil = time.Now().Add(c.cfg.LimitBackoff)
	default:
		st.consecutiveFailures++
		if st.consecutiveFailures >= c.cfg.FailureThreshold {
			st.openUntil = time.Now().Add(c.cfg.TransientBackoff)
		}
	}
}

// Available reports whether providerIdx's circuit is closed or
// half-open (i.e. not presently tripped).
func (c *Classifier) Available(providerIdx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.providers[providerIdx]
	if !ok {
		return true
	}
	return time.Now().After(st.openUntil)
}
