package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Kind partitions generation failures by how the pipeline should react.
type Kind string

const (
	// KindInitialization: the client never came up; nothing to retry.
	KindInitialization Kind = "initialization"
	// KindConfiguration: bad key, bad model name; operator action needed.
	KindConfiguration Kind = "configuration"
	// KindRateLimit: back off longer before retrying.
	KindRateLimit Kind = "rate_limit"
	// KindTransient: network or service hiccup; safe to retry.
	KindTransient Kind = "transient"
	// KindSafety: the model refused the content; never retried.
	KindSafety Kind = "safety"
)

// Error wraps a generation failure with its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind, classifying unwrapped errors by their
// message when no *Error is present.
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "429", "rate limit", "quota", "resource_exhausted", "resource exhausted"):
		return KindRateLimit
	case containsAny(msg, "safety", "blocked", "prohibited"):
		return KindSafety
	case containsAny(msg, "api key", "unauthorized", "401", "403", "invalid argument", "not found", "404"):
		return KindConfiguration
	case containsAny(msg, "timeout", "deadline", "connection", "unavailable", "500", "502", "503", "504", "eof", "reset"):
		return KindTransient
	default:
		return KindTransient
	}
}

// IsRetryable reports whether a retry can help.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTransient:
		return true
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
