package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

type codedRPCError struct{ code int }

func (e codedRPCError) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e codedRPCError) ErrorCode() int { return e.code }

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusPaymentRequired, KindPaymentRequired},
		{http.StatusServiceUnavailable, KindTransport},
		{http.StatusInternalServerError, KindTransport},
		{http.StatusNotFound, KindGeneric},
	}
	for _, tt := range tests {
		err := FromHTTPStatus("price", tt.status, []byte("body"))
		assert.Equal(t, tt.want, KindOf(err), "status %d", tt.status)
	}
}

func TestFromTransport(t *testing.T) {
	dns := &net.DNSError{Err: "no such host", Name: "rpc.invalid", IsNotFound: true}
	assert.Equal(t, KindTransport, KindOf(FromTransport("dial", fmt.Errorf("dial: %w", dns))))
	assert.Equal(t, KindTransport, KindOf(FromTransport("call", context.DeadlineExceeded)))
	assert.Equal(t, KindGeneric, KindOf(FromTransport("call", context.Canceled)))
	assert.Equal(t, KindGeneric, KindOf(FromTransport("call", errors.New("boom"))))
	assert.Nil(t, FromTransport("call", nil))
}

func TestFromRPC(t *testing.T) {
	assert.Equal(t, KindRateLimit, KindOf(FromRPC("eth_call", rpc.HTTPError{StatusCode: 429, Status: "429"})))
	assert.Equal(t, KindPaymentRequired, KindOf(FromRPC("eth_call", rpc.HTTPError{StatusCode: 402, Status: "402"})))
	assert.Equal(t, KindExecution, KindOf(FromRPC("eth_call", codedRPCError{code: 3})))
	assert.Equal(t, KindRateLimit, KindOf(FromRPC("eth_call", codedRPCError{code: -32005})))
	assert.Equal(t, KindMalformed, KindOf(FromRPC("eth_call", codedRPCError{code: -32700})))
}

func TestClassifiedErrorIsPreserved(t *testing.T) {
	inner := New(KindMalformed, "decode", errors.New("bad payload"))
	wrapped := fmt.Errorf("outer: %w", inner)
	assert.Equal(t, KindMalformed, KindOf(FromRPC("eth_call", wrapped)))
	assert.True(t, KindRateLimit.Transient())
	assert.False(t, KindGeneric.Transient())
	assert.False(t, KindPaymentRequired.Retryable())
	assert.True(t, KindGeneric.Retryable())
}
