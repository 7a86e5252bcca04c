// Package ask is the request/response path: a typed question is sent to the
// remote service and the spoken reply comes back as one WAV buffer.
package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
	"github.com/GriffinCanCode/avatar-voice/internal/metrics"
	"github.com/GriffinCanCode/avatar-voice/internal/playback"
	"github.com/GriffinCanCode/avatar-voice/internal/resilience"
	"github.com/GriffinCanCode/avatar-voice/internal/trace"
)

// MaxReplyBytes bounds a reply body.
const MaxReplyBytes = 32 << 20

// Client sends questions to the remote service.
type Client struct {
	http    *http.Client
	url     string
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithBreaker overrides the circuit breaker settings.
func WithBreaker(cfg resilience.Config) Option {
	return func(c *Client) { c.breaker = resilience.New("ask", cfg) }
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for askURL. timeout bounds each attempt.
func New(askURL string, timeout time.Duration, maxRetries int, opts ...Option) *Client {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = maxRetries
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		url:     askURL,
		retry:   retry,
		breaker: resilience.New("ask", resilience.InteractiveConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ask sends question and returns the reply as a playback message. A reply whose
// audio cannot be segmented is still returned, without lipsync.
func (c *Client) Ask(ctx context.Context, question string) (playback.Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return playback.Message{}, apperrors.New(apperrors.InvalidArgument, "question is empty")
	}

	ctx, span := trace.StartSpan(ctx, "ask")
	defer span.End()
	log := trace.Logger(ctx)
	start := time.Now()

	var r reply
	err := resilience.Retry(ctx, c.retry, func() error {
		var err error
		r, err = resilience.ExecuteWithResult(c.breaker, func() (reply, error) {
			return c.fetch(ctx, question)
		}, apperrors.IsRetryable)
		return err
	})
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, resilience.ErrOpen) {
			outcome = metrics.OutcomeRejected
		}
		c.metrics.Ask(outcome, time.Since(start))
		span.SetAttr("error", err.Error())
		log.Warn("ask failed", "error", err)
		return playback.Message{}, err
	}
	c.metrics.Ask(metrics.OutcomeOK, time.Since(start))

	msg, err := playback.Build(r.body, r.contentType)
	if err != nil {
		log.Warn("reply has no lipsync", "error", err)
	}
	span.SetAttr("bytes", len(r.body))
	log.Info("ask answered", "bytes", len(r.body), "cues", msg.HasCues(), "span", span)
	return msg, nil
}

type reply struct {
	body        []byte
	contentType string
}

func (c *Client) fetch(ctx context.Context, question string) (reply, error) {
	u := c.url + "?" + url.Values{"question": {question}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return reply{}, apperrors.Wrap(err, apperrors.InvalidArgument, "build ask request")
	}
	for k, v := range trace.Headers(ctx) {
		req.Header[k] = v
	}
	req.Header.Set("Accept", playback.DefaultMimeType)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return reply{}, apperrors.Wrap(err, apperrors.Timeout, "ask request timed out")
		}
		return reply{}, apperrors.Wrap(err, apperrors.Unavailable, "ask request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return reply{}, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxReplyBytes+1))
	if err != nil {
		return reply{}, apperrors.Wrap(err, apperrors.Unavailable, "read ask reply")
	}
	if len(body) > MaxReplyBytes {
		return reply{}, apperrors.Newf(apperrors.InvalidArgument, "ask reply exceeds %d bytes", MaxReplyBytes)
	}
	return reply{body: body, contentType: resp.Header.Get("Content-Type")}, nil
}

func statusError(code int) error {
	kind := apperrors.InvalidArgument
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		kind = apperrors.Unavailable
	}
	return apperrors.New(kind, fmt.Sprintf("ask returned %d %s", code, http.StatusText(code))).
		WithMetadata("http_status", strconv.Itoa(code))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
