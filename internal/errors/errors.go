// Package errors provides the error kinds observed by the voice client.
// Kinds map onto gRPC status codes so diagnostics render uniformly across surfaces.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	DeviceUnavailable
	EncodingUnsupported
	ConnectFailure
	ChannelError
	DecodeFailure
	Internal
	InvalidArgument
	Unavailable
	Timeout
)

var kindNames = map[Kind]string{
	Unknown:             "UNKNOWN",
	DeviceUnavailable:   "DEVICE_UNAVAILABLE",
	EncodingUnsupported: "ENCODING_UNSUPPORTED",
	ConnectFailure:      "CONNECT_FAILURE",
	ChannelError:        "CHANNEL_ERROR",
	DecodeFailure:       "DECODE_FAILURE",
	Internal:            "INTERNAL",
	InvalidArgument:     "INVALID_ARGUMENT",
	Unavailable:         "UNAVAILABLE",
	Timeout:             "TIMEOUT",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// MarshalText lets kinds appear by name in JSON and slog output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// grpcCodeMap maps Kind to gRPC status codes.
var grpcCodeMap = map[Kind]codes.Code{
	Unknown:             codes.Unknown,
	DeviceUnavailable:   codes.FailedPrecondition,
	EncodingUnsupported: codes.Unimplemented,
	ConnectFailure:      codes.Unavailable,
	ChannelError:        codes.Aborted,
	DecodeFailure:       codes.DataLoss,
	Internal:            codes.Internal,
	InvalidArgument:     codes.InvalidArgument,
	Unavailable:         codes.Unavailable,
	Timeout:             codes.DeadlineExceeded,
}

// AppError is the base error type with a kind and metadata.
type AppError struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Kind]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status with kind and metadata attached as a struct detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	fields := map[string]any{"kind": e.Kind.String()}
	for k, v := range e.Metadata {
		fields[k] = v
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return st
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given kind and message.
func New(kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromStatus rebuilds an AppError from a gRPC status produced by GRPCStatus.
func FromStatus(st *status.Status) *AppError {
	if st == nil {
		return nil
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		e := &AppError{Kind: grpcToKind(st.Code()), Message: st.Message()}
		for k, v := range s.GetFields() {
			if k == "kind" {
				if kind, ok := kindByName(v.GetStringValue()); ok {
					e.Kind = kind
				}
				continue
			}
			e.WithMetadata(k, v.GetStringValue())
		}
		return e
	}
	return &AppError{Kind: grpcToKind(st.Code()), Message: st.Message()}
}

func kindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return Unknown, false
}

// grpcToKind maps gRPC codes back to kinds (best effort).
func grpcToKind(c codes.Code) Kind {
	switch c {
	case codes.FailedPrecondition:
		return DeviceUnavailable
	case codes.Unimplemented:
		return EncodingUnsupported
	case codes.Aborted:
		return ChannelError
	case codes.DataLoss:
		return DecodeFailure
	case codes.Internal:
		return Internal
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	default:
		return Unknown
	}
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return Unknown
}

// IsKind checks if an error chain carries a specific kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Kind == kind
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case Unavailable, Timeout:
		return true
	default:
		return false
	}
}
