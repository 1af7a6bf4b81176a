package slogutil

import (
	"context"
	"log/slog"
)

// redactedKeys are dropped from a log record's top-level attributes,
// including the context attributes dataHook copies in — provider
// credentials pass through a lot of the fetch path (internal/nntp's
// dial/auth, internal/config's reload diffing). Only top-level keys are
// matched: attributes bound with Logger.With, nested inside a group, or
// carried inside a struct value such as a whole ProviderConfig are not
// filtered.
var redactedKeys = map[string]bool{
	"password": true,
	"api_key":  true,
}

// RedactHook drops attributes whose key names a credential field
// before the record reaches the underlying handler.
type RedactHook struct{}

func (RedactHook) Run(_ context.Context, r *slog.Record) {
	var kept []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if !redactedKeys[a.Key] {
			kept = append(kept, a)
		}
		return true
	})

	*r = slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.AddAttrs(kept...)
}
