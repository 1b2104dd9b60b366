package resilience

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"syscall"
)

// TransientError marks a failure that may succeed when tried again, such as
// Google throttling or a dropped archive download. Status is the HTTP status
// when one was received.
type TransientError struct {
	Err    error
	Status int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error, status int) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err, Status: status}
}

// IsTransient reports whether err is worth retrying: anything marked with
// Transient, network timeouts, dropped connections, truncated bodies, and
// FTP 4xx replies (the protocol's "try again later" class).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	var fe *textproto.Error
	if errors.As(err, &fe) {
		return fe.Code >= 400 && fe.Code < 500
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// RetryableStatus reports whether an HTTP status from Google or an archive
// host means the request may succeed later.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Classify labels err "transient" or "permanent" for logs.
func Classify(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
