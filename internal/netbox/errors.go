package netbox

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNetbox is returned when the NetBox API responds with a non 2xx status.
	ErrNetbox = errors.New("netbox API error")

	// ErrTransport is returned when a request could not be completed.
	ErrTransport = errors.New("netbox transport error")

	// ErrDecode is returned when a NetBox response body could not be decoded.
	ErrDecode = errors.New("netbox response decode error")

	// conflictMarkers identify a 400 response caused by a uniqueness validator.
	conflictMarkers = []string{"already exists", "must be unique"}
)

// APIError carries the details of a non 2xx NetBox response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s %s returned status %d", ErrNetbox.Error(), e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}

	return msg
}

func (e *APIError) Unwrap() error {
	return ErrNetbox
}

// IsConflict returns true when the error is the API rejecting a create
// because the object already exists.
func IsConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusBadRequest:
		body := strings.ToLower(apiErr.Body)
		for _, marker := range conflictMarkers {
			if strings.Contains(body, marker) {
				return true
			}
		}
	}

	return false
}
