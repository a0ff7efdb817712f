package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrRecipientUnavailable is returned when a message can never be delivered to the target.
var ErrRecipientUnavailable = errors.New("recipient unavailable")

// RateLimitError is returned when the platform asks the caller to back off.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfterOf returns the back-off requested by err, if err is a rate-limit error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }

// EscapeHTML escapes text for Telegram's HTML parse mode.
func EscapeHTML(s string) string { return escapeHTML(s) }
