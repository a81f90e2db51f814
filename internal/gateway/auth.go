package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the user behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (station.UserID, error)
}

// HeaderAuthenticator trusts a user id placed in a request header by an
// upstream proxy that has already verified the caller.
type HeaderAuthenticator struct {
	Header string
}

// Authenticate implements Authenticator.
//
// Postcondition: Returns a positive user id or an error wrapping
// ErrUnauthenticated.
func (a HeaderAuthenticator) Authenticate(r *http.Request) (station.UserID, error) {
	raw := strings.TrimSpace(r.Header.Get(a.Header))
	if raw == "" {
		return 0, fmt.Errorf("missing %s header: %w", a.Header, ErrUnauthenticated)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s header %q: %w", a.Header, raw, ErrUnauthenticated)
	}
	return station.UserID(id), nil
}
