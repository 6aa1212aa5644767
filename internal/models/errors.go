package models

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes attached by HandleError; test with errors.Is.
var (
	ErrAuth           = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrContextTooLong = errors.New("context too long")
	ErrModelNotFound  = errors.New("model not found")
	ErrConnection     = errors.New("connection error")
)

// ErrModelUnavailable reports a backend that answered with something other
// than a model response: a transport failure, an error status or a non-JSON
// body from a proxy in front of it.
type ErrModelUnavailable struct {
	Provider string
	Status   int // HTTP status, 0 for transport failures
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	msg := "model " + e.Provider + " unavailable"
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	case e.Body != "":
		return msg + ": " + e.Body
	default:
		return msg
	}
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// errorClasses is checked in order against the lowercased message.
var errorClasses = []struct {
	kind    error
	needles []string
}{
	{ErrAuth, []string{"401", "403", "unauthorized", "invalid api key", "api key", "forbidden"}},
	{ErrRateLimited, []string{"429", "rate limit", "quota", "too many requests"}},
	{ErrContextTooLong, []string{"context length", "too many tokens", "max tokens", "token limit"}},
	{ErrModelNotFound, []string{"model not found", "404", "not found"}},
	{ErrConnection, []string{"connection", "eof", "timeout", "dial", "refused", "unavailable"}},
}

// HandleError tags a provider error with its failure class so callers and
// users see why a call failed. Unrecognised errors pass through unchanged.
func HandleError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, c := range errorClasses {
		for _, n := range c.needles {
			if strings.Contains(msg, n) {
				return fmt.Errorf("%w: %w", c.kind, err)
			}
		}
	}
	return err
}

// Retryable reports whether a classified error may succeed on a later try.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrConnection)
}
