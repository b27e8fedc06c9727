package core

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Predefined Error Values
// =============================================================================

var (
	ErrRateLimited        = errors.New("rate limited")
	ErrTimeout            = errors.New("operation timed out")
	ErrNoAPIKey           = errors.New("API key not configured")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("artifact not found")
	ErrNetworkError       = errors.New("network error")
	ErrServerError        = errors.New("server error")
	ErrTooFewVariants     = errors.New("too few successful variants")
	ErrResumeExhausted    = errors.New("resume attempt already consumed")
	ErrNeedsClarification = errors.New("feedback needs clarification")
)

// =============================================================================
// Typed Errors
// =============================================================================

// ValidationError reports a missing or invalid field in structured data.
// Routing logic downstream assumes a closed enum/field space, so these are
// always surfaced immediately and never defaulted away.
type ValidationError struct {
	Component string
	Field     string
	Message   string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: invalid %s: %s (value: %v)", e.Component, e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Component, e.Field, e.Message)
}

// MalformedResponseError reports a structured LLM response that is missing a
// required section or field for the level being edited. The Section field
// names exactly what is missing.
type MalformedResponseError struct {
	Level   string
	Section string
	Cause   error
}

func (e *MalformedResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed %s response: section %q: %v", e.Level, e.Section, e.Cause)
	}
	return fmt.Sprintf("malformed %s response: missing required section %q", e.Level, e.Section)
}

func (e *MalformedResponseError) Unwrap() error { return e.Cause }

// TruncationError indicates LLM output was cut off mid-generation. It
// triggers the resume protocol before becoming a user-facing failure.
type TruncationError struct {
	FinishReason string
	Cause        error
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("response truncated (finish_reason=%s): %v", e.FinishReason, e.Cause)
}

func (e *TruncationError) Unwrap() error { return e.Cause }

// PatchError reports a failed diff validation or application. BackupPath
// points at the pre-apply copy so no data is silently lost.
type PatchError struct {
	Stage      string // "validate", "apply", "save"
	BackupPath string
	Cause      error
}

func (e *PatchError) Error() string {
	if e.BackupPath != "" {
		return fmt.Sprintf("patch %s failed (backup at %s): %v", e.Stage, e.BackupPath, e.Cause)
	}
	return fmt.Sprintf("patch %s failed: %v", e.Stage, e.Cause)
}

func (e *PatchError) Unwrap() error { return e.Cause }

// ContextOverflowError means the prompt alone exceeds the model's context
// window. It carries exact token accounting so the failure is diagnosable
// without re-running.
type ContextOverflowError struct {
	Model         string
	PromptTokens  int
	ContextWindow int
	SafetyBuffer  int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("prompt exceeds context window for %s: %d prompt tokens vs %d window (buffer %d)",
		e.Model, e.PromptTokens, e.ContextWindow, e.SafetyBuffer)
}

// PhaseError wraps a failure during a named generation phase or batch.
type PhaseError struct {
	Phase   string
	Attempt int
	Cause   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed (attempt %d): %v", e.Phase, e.Attempt, e.Cause)
}

func (e *PhaseError) Unwrap() error { return e.Cause }

// =============================================================================
// Error Classification
// =============================================================================

// IsRetryable reports whether a failed call may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNetworkError),
		errors.Is(err, ErrServerError):
		return true
	}
	var ve *ValidationError
	var mre *MalformedResponseError
	var coe *ContextOverflowError
	if errors.As(err, &ve) || errors.As(err, &mre) || errors.As(err, &coe) {
		return false
	}
	return false
}

// IsTruncation matches parse failures that look like cut-off output. Used
// alongside the finish-reason signal to decide whether the resume protocol
// applies.
func IsTruncation(err error) bool {
	if err == nil {
		return false
	}
	var te *TruncationError
	if errors.As(err, &te) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"unterminated string",
		"found unexpected end of stream",
		"expecting value",
		"expected ',' or ']'",
		"could not find expected",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
