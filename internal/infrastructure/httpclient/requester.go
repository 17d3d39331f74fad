package httpclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"reserve_tracker/internal/infrastructure/network/ratelimit"
	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ClientOptions holds what every HTTP source shares.
type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	// Limiter is optional; nil skips admission control.
	Limiter *ratelimit.ChainLimiter
	Retry   retry.Options
	Logger  *zap.Logger
}

// requester issues GET requests through fasthttp with admission, timeout and retries.
type requester struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	limiter *ratelimit.ChainLimiter
	retry   retry.Options
	headers map[string]string
	logger  *zap.Logger
}

func newRequester(name string, o ClientOptions) *requester {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &requester{
		client:  &fasthttp.Client{Name: "reserve_tracker"},
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		timeout: o.Timeout,
		limiter: o.Limiter,
		retry:   o.Retry,
		headers: map[string]string{},
		logger:  o.Logger.Named(name),
	}
}

// fetch GETs path and hands the body to decode. Decode failures are classified as
// malformed responses so they get the bounded retry budget.
func (r *requester) fetch(ctx context.Context, op, path string, decode func(body []byte) error) error {
	requestURL := r.baseURL + path
	_, err := retry.Do(ctx, op, r.retry, func(ctx context.Context) (struct{}, error) {
		body, err := ratelimit.Do(ctx, r.limiter, op, func(ctx context.Context) ([]byte, error) {
			return r.get(ctx, op, requestURL)
		})
		if err != nil {
			return struct{}{}, err
		}
		if err := decode(body); err != nil {
			r.logger.Warn("Unexpected response payload", zap.String("url", requestURL), zap.ByteString("responseBody", truncate(body)), zap.Error(err))
			return struct{}{}, fetcherr.FromDecode(op, err)
		}
		return struct{}{}, nil
	})
	return err
}

func (r *requester) fetchJSON(ctx context.Context, op, path string, out any) error {
	return r.fetch(ctx, op, path, func(body []byte) error {
		return json.Unmarshal(body, out)
	})
}

func (r *requester) get(ctx context.Context, op, requestURL string) ([]byte, error) {
	r.logger.Debug("Requesting", zap.String("url", requestURL))

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = r.client.DoDeadline(req, resp, deadline)
	} else {
		err = r.client.DoTimeout(req, resp, r.timeout)
	}
	if err != nil {
		r.logger.Error("Failed to execute request", zap.String("url", requestURL), zap.Error(err))
		return nil, fetcherr.FromTransport(op, fmt.Errorf("request to %s: %w", requestURL, err))
	}

	body := append([]byte(nil), resp.Body()...)
	if resp.StatusCode() != fasthttp.StatusOK {
		r.logger.Warn("API request failed",
			zap.String("url", requestURL),
			zap.Int("statusCode", resp.StatusCode()),
			zap.ByteString("responseBody", truncate(body)),
		)
		return nil, fetcherr.FromHTTPStatus(op, resp.StatusCode(), body)
	}
	return body, nil
}

func truncate(b []byte) []byte {
	if len(b) > 512 {
		return b[:512]
	}
	return b
}
