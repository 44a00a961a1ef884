package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a crawl failure for run summaries and retry decisions.
type ErrorKind string

const (
	KindBlocked    ErrorKind = "blocked"
	KindStructural ErrorKind = "structural_change"
	KindTransient  ErrorKind = "transient_network"
	KindPartial    ErrorKind = "partial_extraction"
	KindLogin      ErrorKind = "login_failure"
	KindGone       ErrorKind = "gone"
	KindSkipped    ErrorKind = "skipped"
	KindInternal   ErrorKind = "internal"
)

// ErrSkipped marks a candidate that was not visited because the pass was
// stopped by a block.
var ErrSkipped = errors.New("skipped after block")

// BlockedError means the marketplace's anti-bot defenses answered instead of
// the page. Back off and escalate; never hot-retry.
type BlockedError struct {
	URL    string
	Reason string
	Err    error
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("blocked fetching %s: %s", e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BlockedError) Unwrap() error { return e.Err }

// StructuralChangeError means none of the known selectors matched and the page
// is not an explicit empty result. Needs human review.
type StructuralChangeError struct {
	URL       string
	Selectors []string
}

func (e *StructuralChangeError) Error() string {
	return fmt.Sprintf("structural change at %s: no match for [%s]", e.URL, strings.Join(e.Selectors, ", "))
}

// TransientNetworkError wraps timeouts, resets and 5xx answers.
type TransientNetworkError struct {
	URL string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient failure fetching %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// PartialExtractionWarning reports core fields no strategy could resolve. The
// record is still stored.
type PartialExtractionWarning struct {
	URL    string
	Fields []string
}

func (e *PartialExtractionWarning) Error() string {
	return fmt.Sprintf("partial extraction at %s: unresolved %s", e.URL, strings.Join(e.Fields, ", "))
}

// GoneError means the listing was removed or deactivated on the marketplace.
// The record must not be refreshed from such a page.
type GoneError struct {
	URL    string
	Reason string
}

func (e *GoneError) Error() string {
	return fmt.Sprintf("listing gone at %s: %s", e.URL, e.Reason)
}

// LoginFailure disables gated extraction for the current pass.
type LoginFailure struct {
	Identity string
	Reason   string
	Err      error
}

func (e *LoginFailure) Error() string {
	msg := fmt.Sprintf("login failed for %q: %s", e.Identity, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoginFailure) Unwrap() error { return e.Err }

// Kind returns the taxonomy class of err.
func Kind(err error) ErrorKind {
	var (
		blocked    *BlockedError
		structural *StructuralChangeError
		transient  *TransientNetworkError
		partial    *PartialExtractionWarning
		login      *LoginFailure
		gone       *GoneError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &blocked):
		return KindBlocked
	case errors.As(err, &structural):
		return KindStructural
	case errors.As(err, &transient):
		return KindTransient
	case errors.As(err, &partial):
		return KindPartial
	case errors.As(err, &login):
		return KindLogin
	case errors.As(err, &gone):
		return KindGone
	case errors.Is(err, ErrSkipped):
		return KindSkipped
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	return KindInternal
}

// IsRetryable reports whether err may be retried immediately with backoff.
func IsRetryable(err error) bool {
	return Kind(err) == KindTransient
}
