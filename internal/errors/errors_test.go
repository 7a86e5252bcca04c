package errors

import (
	"fmt"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestAppErrorString(t *testing.T) {
	err := New(ConnectFailure, "dial failed").WithMetadata("url", "ws://x")
	s := err.Error()
	if !strings.Contains(s, "[CONNECT_FAILURE]") {
		t.Errorf("Error() = %q, want kind prefix", s)
	}
	if !strings.Contains(s, "url:ws://x") {
		t.Errorf("Error() = %q, want metadata", s)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(cause, ChannelError, "read")
	if err.Unwrap() != cause {
		t.Error("Unwrap should return cause")
	}
	outer := fmt.Errorf("session: %w", err)
	if !IsKind(outer, ChannelError) {
		t.Error("IsKind should see through fmt wrapping")
	}
	if KindOf(outer) != ChannelError {
		t.Errorf("KindOf = %v, want ChannelError", KindOf(outer))
	}
	if KindOf(cause) != Unknown {
		t.Errorf("KindOf(plain) = %v, want Unknown", KindOf(cause))
	}
}

func TestGRPCCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want codes.Code
	}{
		{DeviceUnavailable, codes.FailedPrecondition},
		{EncodingUnsupported, codes.Unimplemented},
		{ConnectFailure, codes.Unavailable},
		{ChannelError, codes.Aborted},
		{DecodeFailure, codes.DataLoss},
		{Timeout, codes.DeadlineExceeded},
		{Kind(99), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := New(tt.kind, "x").GRPCCode(); got != tt.want {
				t.Errorf("GRPCCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusRoundTrip(t *testing.T) {
	err := New(ConnectFailure, "handshake").WithMetadata("url", "ws://host/ws/ask")
	back := FromStatus(err.GRPCStatus())
	if back.Kind != ConnectFailure {
		t.Errorf("Kind = %v, want ConnectFailure", back.Kind)
	}
	if back.Metadata["url"] != "ws://host/ws/ask" {
		t.Errorf("metadata url = %q", back.Metadata["url"])
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(Unavailable, "x")) {
		t.Error("Unavailable should be retryable")
	}
	if IsRetryable(New(ChannelError, "x")) {
		t.Error("ChannelError should not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestKindMarshalText(t *testing.T) {
	b, _ := DecodeFailure.MarshalText()
	if string(b) != "DECODE_FAILURE" {
		t.Errorf("MarshalText = %q", b)
	}
}
