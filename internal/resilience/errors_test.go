package resilience

import (
	"context"
	"io"
	"net"
	"net/textproto"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"google 429", Transient(eris.New("geocode: google returned status 429"), 429), true},
		{"over query limit wrapped", eris.Wrap(overQueryLimit, "geocode: verify"), true},
		{"request denied", eris.New("geocode: google status REQUEST_DENIED"), false},
		{"ftp service not available", eris.Wrap(&textproto.Error{Code: 421, Msg: "busy"}, "ftp dial"), true},
		{"ftp file busy", eris.Wrap(&textproto.Error{Code: 450, Msg: "file busy"}, "ftp retrieve"), true},
		{"ftp file missing", eris.Wrap(&textproto.Error{Code: 550, Msg: "not found"}, "ftp retrieve"), false},
		{"truncated archive body", eris.Wrap(io.ErrUnexpectedEOF, "write file"), true},
		{"connection reset", eris.Wrap(syscall.ECONNRESET, "http request"), true},
		{"network timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"cancelled", eris.Wrap(context.Canceled, "geocode: google request"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransient_Nil(t *testing.T) {
	assert.NoError(t, Transient(nil, 503))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 403, 404, 501} {
		assert.False(t, RetryableStatus(code), code)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "transient", Classify(overQueryLimit))
	assert.Equal(t, "permanent", Classify(eris.New("geocode: google status INVALID_REQUEST")))
}
