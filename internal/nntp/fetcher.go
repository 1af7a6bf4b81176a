package nntp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	usenetstreamerrors "github.com/javi11/usenetstream/internal/errors"
	"github.com/javi11/usenetstream/internal/yenc"
)

// UsageKind is spec.md's Usage Context kind: Streaming, Queue,
// HealthCheck, or PlaybackVerified.
type UsageKind int

const (
	UsageStreaming UsageKind = iota
	UsageQueue
	UsageHealthCheck
	UsagePlaybackVerified
)

// UsageContext flows with every fetch and is consulted by L7 (ranking)
// and L8 (admission).
type UsageContext struct {
	Kind         UsageKind
	JobKey       string
	AffinityKey  string
}

// Ranker orders candidate providers for a fetch, consulted before every
// attempt sequence. internal/affinity.Scorer implements this.
type Ranker interface {
	Order(providers []ProviderConfig, usage UsageContext) []ProviderConfig
}

// Admitter gates how many concurrent fetches each usage class may run.
// internal/admission.Controller implements this.
type Admitter interface {
	Acquire(ctx context.Context, kind int) (release func(), err error)
}

// Classifier maps a raw fetch error to a semantic kind and tells the
// fetcher whether/how to retry. internal/classify.Classifier implements
// this.
type Classifier interface {
	Classify(err error) Classification
	// RecordOutcome updates providerIdx's circuit-breaker state; err is
	// nil on success.
	RecordOutcome(providerIdx int, err error)
}

// Classification is the outcome of Classifier.Classify.
type Classification struct {
	Kind         string // ArticleMissing, ArticleRefused, Transient, AuthFailed, OverLimit, Cancelled, Fatal
	Retryable    bool
	SameProvider bool // true if a retry should stay on the same provider (e.g. Transient)
}

// Recorder observes fetch outcomes for L7 affinity learning and L10
// bandwidth metering. internal/affinity.Scorer and internal/bandwidth.Meter
// both implement this.
type Recorder interface {
	RecordFetch(providerIdx int, jobKey string, bytes int64, dur time.Duration, err error)
}

var (
	ErrArticleNotFound  = errors.New("nntp: article not found on any candidate provider")
	ErrArticleUnavailable = errors.New("nntp: article unavailable on any candidate provider")
)

// FetcherConfig bounds per-attempt timeouts and retry shape, mirroring
// the constants the teacher's downloadSegmentWithRetry uses for
// avast/retry-go/v4 (Attempts, Delay, MaxJitter, MaxDelay, BackOffDelay).
type FetcherConfig struct {
	OperationTimeout time.Duration // default 60s, per spec.md §4.2
	Attempts         uint          // default 5
	BaseDelay        time.Duration // default 15ms
	MaxJitter        time.Duration // default 10ms
	MaxDelay         time.Duration // default 2s
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 60 * time.Second
	}
	if c.Attempts == 0 {
		c.Attempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 15 * time.Millisecond
	}
	if c.MaxJitter <= 0 {
		c.MaxJitter = 10 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	return c
}

// Fetcher retrieves decoded article payloads by message-id, retrying
// and failing over across providers per spec.md §4.2's algorithm.
type Fetcher struct {
	pool       *Pool
	rank       Ranker
	admit      Admitter
	classify   Classifier
	record     Recorder
	cfg        FetcherConfig
	log        *slog.Logger
}

// NewFetcher wires L1 (pool) together with L7/L8/L9/L10 collaborators.
func NewFetcher(pool *Pool, rank Ranker, admit Admitter, classify Classifier, record Recorder, cfg FetcherConfig, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		pool:     pool,
		rank:     rank,
		admit:    admit,
		classify: classify,
		record:   record,
		cfg:      cfg.withDefaults(),
		log:      log.With("component", "nntp.fetcher"),
	}
}

// Fetch retrieves and yEnc-decodes one article, trying candidate
// providers in L7's ranked order until one succeeds or all are
// exhausted.
func (f *Fetcher) Fetch(ctx context.Context, msgID string, usage UsageContext) ([]byte, error) {
	release, err := f.admit.Acquire(ctx, int(usage.Kind))
	if err != nil {
		return nil, fmt.Errorf("nntp: admission denied: %w", err)
	}
	defer release()

	candidates := f.rank.Order(f.pool.Providers(), usage)
	if len(candidates) == 0 {
		return nil, ErrProviderUnavailable
	}

	var sawMissing bool
	var lastErr error

	for _, cand := range candidates {
		payload, status, err := f.fetchFromProvider(ctx, cand, msgID, usage)
		if err == nil {
			return payload, nil
		}

		lastErr = err
		if status == StatusMissing {
			sawMissing = true
		}

		cl := f.classify.Classify(err)
		if cl.Kind == "Cancelled" || cl.Kind == "Fatal" {
			return nil, err
		}
		// MissingArticle/Refused/Transient: advance to next candidate.
	}

	if sawMissing {
		return nil, fmt.Errorf("%w: %s: %v", ErrArticleNotFound, msgID, lastErr)
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrArticleUnavailable, msgID, lastErr)
}

// fetchFromProvider runs the bounded-attempt retry loop for a single
// candidate provider. Per spec.md §4.2 step 4, MissingArticle/Refused
// responses are not retried on the same provider; only Transient
// errors (timeouts, socket errors, decode mismatches) are retried here,
// via retry-go with jittered backoff — the same shape the teacher's
// usenet_reader.go downloadSegmentWithRetry uses.
func (f *Fetcher) fetchFromProvider(ctx context.Context, cand ProviderConfig, msgID string, usage UsageContext) ([]byte, ArticleStatus, error) {
	attemptID := uuid.NewString()
	start := time.Now()

	var payload []byte
	var status ArticleStatus

	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.OperationTimeout)
			defer cancel()

			conn, err := f.pool.Borrow(attemptCtx, cand.Index)
			if err != nil {
				status = StatusRefused
				return err
			}

			var buf bytes.Buffer
			st, bodyErr := conn.Body(parseMessageID(msgID), &buf)
			status = st

			if bodyErr != nil {
				if conn.Broken() {
					_ = conn.Close()
				} else {
					f.pool.Release(conn)
				}
				if st == StatusMissing {
					return retry.Unrecoverable(bodyErr)
				}
				return bodyErr
			}

			decoded, _, decErr := yenc.Decode(&buf)
			if decErr != nil {
				_ = conn.Close() // decode mismatch: don't trust this connection's framing state

				var yencErr *yenc.DecodeError
				if errors.As(decErr, &yencErr) && yencErr.Kind == "malformed" {
					// No =ybegin/=yend envelope at all means the body
					// this message-id resolved to isn't yEnc-encoded
					// data in the first place; no amount of retrying
					// will make it one.
					return usenetstreamerrors.WrapNonRetryable(decErr)
				}
				return decErr
			}

			f.pool.Release(conn)
			payload = decoded
			return nil
		},
		retry.Attempts(f.cfg.Attempts),
		retry.Delay(f.cfg.BaseDelay),
		retry.MaxJitter(f.cfg.MaxJitter),
		retry.MaxDelay(f.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && status != StatusMissing && !usenetstreamerrors.IsNonRetryable(err)
		}),
		retry.LastErrorOnly(true),
	)

	dur := time.Since(start)
	f.record.RecordFetch(cand.Index, usage.JobKey, int64(len(payload)), dur, err)
	f.classify.RecordOutcome(cand.Index, err)

	if err != nil {
		f.log.DebugContext(ctx, "nntp.fetch.provider_failed",
			slog.String("attempt_id", attemptID),
			slog.Int("provider", cand.Index),
			slog.String("msg_id", msgID),
			slog.Any("error", err),
		)
	}

	return payload, status, err
}
