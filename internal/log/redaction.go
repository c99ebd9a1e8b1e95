// Package log provides the logging plumbing shared by the out-of-process
// PSRP server: a redacting slog.Handler and a size-based rotating file
// writer, wired together by cmd/psrp-outofproc-server.
package log

import (
	"context"
	"log/slog"
	"strings"
)

// sensitiveKeys lists attribute keys whose values must never reach a log
// sink verbatim. PSRP host calls can carry PSCredential payloads, so
// "credential" joins the generic secret-shaped keys; "username" is not
// treated as sensitive.
var sensitiveKeys = map[string]struct{}{
	"password":   {},
	"pass":       {},
	"secret":     {},
	"token":      {},
	"key":        {},
	"hash":       {},
	"auth":       {},
	"credential": {},
}

// RedactingHandler wraps another slog.Handler and blanks out attribute
// values whose key looks sensitive before they reach it.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler returns a handler that redacts sensitive attributes
// and forwards everything else to next.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler, redacting attributes before delegating.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, redactAttr(a))
		return true
	})

	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	redacted.AddAttrs(attrs...)
	return h.next.Handle(ctx, redacted)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]interface{}, len(group))
		for i, attr := range group {
			redacted[i] = redactAttr(attr)
		}
		return slog.Group(a.Key, redacted...)
	}

	if keyIsSensitive(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}

	// A host-call result logged under a plain key (e.g. "result" for a
	// PromptForCredential response) isn't itself named like a secret, but
	// the PSRP credential payload it carries is a {username, password}
	// map rather than a string, so the key-substring check above never
	// sees it. Recurse into map-shaped values instead.
	if a.Value.Kind() == slog.KindAny {
		if m, ok := a.Value.Any().(map[string]interface{}); ok {
			return slog.Any(a.Key, redactMap(m))
		}
	}

	return a
}

func redactMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch {
		case keyIsSensitive(k):
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]interface{}); ok {
				v = redactMap(nested)
			}
			out[k] = v
		}
	}
	return out
}

func keyIsSensitive(key string) bool {
	lowerKey := strings.ToLower(key)
	for sens := range sensitiveKeys {
		if strings.Contains(lowerKey, sens) {
			return true
		}
	}
	return false
}
