package google

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ErrCursorExpired is reported when Google rejects a sync token (HTTP 410)
// and a full resynchronization is required.
var ErrCursorExpired = errors.New("google calendar: sync token expired")

// Error is returned by every CalendarClient operation. Code carries the
// HTTP status reported by the API, or 0 for transport failures.
type Error struct {
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("google calendar %s (status %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("google calendar %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Op: op, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		e.Code = apiErr.Code
	}
	return e
}

func statusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the Calendar API.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsGone reports whether err is a 410 from the Calendar API.
func IsGone(err error) bool {
	return statusCode(err) == http.StatusGone
}
