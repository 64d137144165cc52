package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/funcflow/internal/runtime/jsoncodec"
)

func TestEncodeErrorPayloadRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain message",
		`quote " and backslash \`,
		"line\nbreak\ttab\rreturn",
		"bell\a backspace\b formfeed\f nul\x00 unit\x1f",
		"multi-byte: héllo wörld 日本語 🚀",
		`{"nested":"json"}`,
	}
	for _, in := range inputs {
		payload := EncodeErrorPayload("Type\""+in, in)

		var decoded struct {
			ErrorType    string `json:"errorType"`
			ErrorMessage string `json:"errorMessage"`
		}
		require.NoError(t, jsoncodec.Unmarshal(payload, &decoded), "payload %q", payload)
		assert.Equal(t, in, decoded.ErrorMessage)
		assert.Equal(t, "Type\""+in, decoded.ErrorType)
	}
}

func TestEncodeErrorPayloadEscapes(t *testing.T) {
	got := string(EncodeErrorPayload("E", "a\x01\n\"é"))
	assert.Equal(t, `{"errorType":"E","errorMessage":"a\u0001\n\"é"}`, got)
}

func TestNormalizeTransportError(t *testing.T) {
	reset := &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}}
	tests := []struct {
		name       string
		err        error
		wantReason string
		wantCancel bool
	}{
		{"canceled", &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, "", true},
		{"deadline", context.DeadlineExceeded, errspkg.ReasonTimeout, false},
		{"net timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, errspkg.ReasonTimeout, false},
		{"reset", reset, errspkg.ReasonConnectionReset, false},
		{"pipe", syscall.EPIPE, errspkg.ReasonConnectionReset, false},
		{"eof", &url.Error{Op: "Get", URL: "http://x", Err: io.EOF}, errspkg.ReasonConnectionReset, false},
		{"refused", syscall.ECONNREFUSED, errspkg.ReasonConnectionFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := normalizeTransportError(tt.err)
			if tt.wantCancel {
				assert.ErrorIs(t, err, errspkg.ErrCancelled)
				return
			}
			var upstream *errspkg.UpstreamError
			require.ErrorAs(t, err, &upstream)
			assert.Equal(t, tt.wantReason, upstream.Reason)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
