package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNoToken means no request was sent because no bearer token was available.
	ErrNoToken = errors.New("remote: no token")
	// ErrUnauthorized is returned for HTTP 401. Tokens are never refreshed here.
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrTransport    = errors.New("remote: transport")
	ErrDecode       = errors.New("remote: decode")
	ErrEncode       = errors.New("remote: encode")
)

// StatusError is any non-2xx answer other than 401.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: status %d body=%q", e.Code, e.Body)
}

// Kind names the taxonomy bucket of err, for logs and events.
func Kind(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoToken):
		return "no_token"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &se):
		return "bad_status"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrEncode):
		return "encode"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
