package shabihttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tanq16/shabi/internal/utils"
)

type attemptKind int

const (
	attemptOK attemptKind = iota
	attemptRetryable
	attemptFatal
)

// attemptResult is what one Probing+Streaming pass hands back to the state
// machine. The machine branches on kind only; err is kept for reporting.
type attemptResult struct {
	kind    attemptKind
	err     error
	written int64
}

func succeeded(written int64) attemptResult {
	return attemptResult{kind: attemptOK, written: written}
}

func retryable(err error, written int64) attemptResult {
	return attemptResult{kind: attemptRetryable, err: err, written: written}
}

func fatal(err error, written int64) attemptResult {
	return attemptResult{kind: attemptFatal, err: err, written: written}
}

// networkFailure classifies a transport error. A cancelled context is final,
// everything else (reset, timeout, DNS) is worth another attempt.
func networkFailure(ctx context.Context, err error, written int64) attemptResult {
	if ctx.Err() != nil {
		return fatal(ctx.Err(), written)
	}
	return retryable(err, written)
}

type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Backoff is the delay slept after a failed attempt: 2^attempt units.
func Backoff(attempt int, unit time.Duration) time.Duration {
	return unit * time.Duration(1<<uint(attempt))
}

type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func rangeHeader(offset int64) string {
	return fmt.Sprintf("bytes=%d-", offset)
}

// unsatisfiedRangeTotal extracts N from a "bytes */N" Content-Range header
// sent alongside a 416 response.
func unsatisfiedRangeTotal(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes */")
	if !ok {
		return 0, false
	}
	total, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

// parseContentRange reads a "bytes start-end/total" header. total is -1 when
// the server sends "*".
func parseContentRange(header string) (start, end, total int64, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !found {
		return 0, 0, 0, false
	}
	span, size, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, 0, false
	}
	first, last, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, 0, false
	}
	var err error
	if start, err = strconv.ParseInt(first, 10, 64); err != nil || start < 0 {
		return 0, 0, 0, false
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil || end < start {
		return 0, 0, 0, false
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil || total <= end {
			return 0, 0, 0, false
		}
	}
	return start, end, total, true
}

// checkPartialContent verifies that a 206 answers the range that was asked
// for, so the body can be appended at offset.
func checkPartialContent(header http.Header, offset, contentLength int64) error {
	value := header.Get("Content-Range")
	start, end, total, ok := parseContentRange(value)
	if !ok || start != offset {
		return fmt.Errorf("%w: requested offset %d, got Content-Range %q", utils.ErrRangeMismatch, offset, value)
	}
	if contentLength >= 0 && end-start+1 != contentLength {
		return fmt.Errorf("%w: Content-Range %q with %d body bytes", utils.ErrRangeMismatch, value, contentLength)
	}
	if total >= 0 && end+1 != total {
		return fmt.Errorf("%w: Content-Range %q does not reach the end of the file", utils.ErrRangeMismatch, value)
	}
	return nil
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
