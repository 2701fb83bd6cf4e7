package connector

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownCategory is returned for slugs no category maps to.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrMissingToken is returned when a client is built without credentials.
	ErrMissingToken = errors.New("vendor api token is required")
)

// CategoryDisabledError reports a category that does not exist for the
// tenant. Discovery treats it as an empty category.
type CategoryDisabledError struct {
	Category string
	Err      error
}

func (e *CategoryDisabledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("category %s disabled: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("category %s disabled", e.Category)
}

func (e *CategoryDisabledError) Unwrap() error {
	return e.Err
}

// IsCategoryDisabled reports whether err is or wraps a CategoryDisabledError.
func IsCategoryDisabled(err error) bool {
	var target *CategoryDisabledError
	return errors.As(err, &target)
}

// APIError is a non-2xx vendor response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vendor api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("vendor api error: status=%d message=%s", e.Status, e.Message)
}

// NotFound reports a 404 response.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// AsAPIError extracts an APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var target *APIError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
