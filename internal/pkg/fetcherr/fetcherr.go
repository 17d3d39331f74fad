// Package fetcherr maps failures of external calls into a small closed set of kinds
// at the call site, so the retry engine never inspects error text.
package fetcherr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/valyala/fasthttp"
)

// Kind classifies a failed external call.
type Kind int

const (
	KindGeneric Kind = iota
	KindRateLimit
	KindTransport
	KindMalformed
	KindExecution
	KindPaymentRequired
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed_response"
	case KindExecution:
		return "execution"
	case KindPaymentRequired:
		return "payment_required"
	case KindConfig:
		return "config"
	default:
		return "generic"
	}
}

// Transient reports whether the kind is expected to clear up on its own.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimit, KindTransport, KindMalformed, KindExecution:
		return true
	}
	return false
}

// Retryable reports whether a call failing with this kind may be retried at all.
func (k Kind) Retryable() bool {
	return k != KindPaymentRequired && k != KindConfig
}

// Error is a classified failure of an external call.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind attached to err, or KindGeneric when none is.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindGeneric
}

// FromHTTPStatus classifies a non-2xx HTTP status code.
func FromHTTPStatus(op string, status int, body []byte) error {
	err := fmt.Errorf("HTTP %d: %s", status, truncate(body, 256))
	switch {
	case status == http.StatusTooManyRequests:
		return New(KindRateLimit, op, err)
	case status == http.StatusPaymentRequired:
		return New(KindPaymentRequired, op, err)
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return New(KindTransport, op, err)
	case status >= 500:
		return New(KindTransport, op, err)
	default:
		return New(KindGeneric, op, err)
	}
}

// FromTransport classifies an error returned before any response was read.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return New(KindGeneric, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, fasthttp.ErrTimeout) {
		return New(KindTransport, op, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return New(KindTransport, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return New(KindTransport, op, err)
	}
	if errors.Is(err, fasthttp.ErrConnectionClosed) || errors.Is(err, fasthttp.ErrNoFreeConns) {
		return New(KindTransport, op, err)
	}
	return New(KindGeneric, op, err)
}

// FromDecode classifies a payload that could not be decoded.
func FromDecode(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindMalformed, op, err)
}

// JSON-RPC error codes used by EVM nodes.
const (
	rpcCodeExecutionReverted = 3
	rpcCodeLimitExceeded     = -32005
	rpcCodeInvalidParams     = -32602
	rpcCodeInternal          = -32603
	rpcCodeParse             = -32700
)

// FromRPC classifies an error returned by the go-ethereum RPC client.
func FromRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return FromHTTPStatus(op, httpErr.StatusCode, httpErr.Body)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeLimitExceeded:
			return New(KindRateLimit, op, err)
		case rpcCodeExecutionReverted, rpcCodeInvalidParams:
			return New(KindExecution, op, err)
		case rpcCodeParse:
			return New(KindMalformed, op, err)
		case rpcCodeInternal:
			return New(KindTransport, op, err)
		}
		return New(KindGeneric, op, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return New(KindMalformed, op, err)
	}
	return FromTransport(op, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
