package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/yourorg/efile/internal/ack"
	"github.com/yourorg/efile/internal/credential"
	"github.com/yourorg/efile/internal/mef"
	"github.com/yourorg/efile/internal/signing"
)

const (
	OpSubmit      = "submit"
	OpStatusCheck = "status_check"

	// IdempotencyHeader carries the transmission id so a retried submit is
	// recognized by the endpoint instead of filed twice.
	IdempotencyHeader = "Idempotency-Key"

	maxErrorBody = 4 << 10
)

// Meta accompanies a signed document on submission.
type Meta struct {
	EFIN     string
	PIN      string
	PTIN     string
	TaxYear  int
	TestMode bool
}

// StatusQuery identifies a submission at the endpoint.
type StatusQuery struct {
	SubmissionID       string
	ConfirmationNumber string
	EFIN               string
	TestMode           bool
}

// StatusReport is the endpoint's current view of a submission.
type StatusReport struct {
	Status    ack.Status `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Detail    string     `json:"detail"`
}

// submissionReceipt is the endpoint's 202 body.
type submissionReceipt struct {
	SubmissionID string    `json:"submissionId"`
	Status       string    `json:"status"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// Client talks to a MeF filing endpoint.
type Client struct {
	cfg             Config
	http            *http.Client
	registry        credential.Registry
	breaker         *gobreaker.CircuitBreaker
	limiter         *RateLimiter
	metrics         *Metrics
	logger          *slog.Logger
	newConfirmation func() string
	now             func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithConfirmationNumbers(gen func() string) Option {
	return func(c *Client) { c.newConfirmation = gen }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, registry credential.Registry, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	c := &Client{
		cfg:             cfg,
		http:            &http.Client{},
		registry:        registry,
		limiter:         NewRateLimiter(cfg.RatePerMinute, time.Minute),
		logger:          slog.Default(),
		newConfirmation: uuid.NewString,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mef-endpoint",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var ee *EndpointError
			if errors.As(err, &ee) {
				return !ee.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("endpoint circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			c.metrics.breaker(to)
		},
	})
	return c
}

// Submit transmits a signed document. Nothing is minted unless the endpoint
// accepted the payload; a cancelled ctx only abandons the local wait.
func (c *Client) Submit(ctx context.Context, signed signing.SignedDocument, meta Meta) (ack.Record, error) {
	efin := strings.TrimSpace(meta.EFIN)
	if efin == "" {
		return ack.Record{}, ErrEFINRequired
	}
	if !signed.Document.Signed() {
		return ack.Record{}, signing.ErrNotSigned
	}
	ptin := strings.TrimSpace(meta.PTIN)
	if ptin != "" {
		if c.registry == nil {
			return ack.Record{}, &credential.Error{ID: ptin, Err: credential.ErrCredentialNotFound}
		}
		if _, err := credential.RequireActive(ctx, c.registry, ptin, meta.PIN); err != nil {
			return ack.Record{}, err
		}
	}
	endpoint, err := c.cfg.Endpoint(meta.TestMode)
	if err != nil {
		return ack.Record{}, err
	}
	wantCd := mef.ProductionCd
	if meta.TestMode {
		wantCd = mef.TestCd
	}
	if got := signed.Document.Envelope.Header.ProductionTestCd; got != wantCd {
		return ack.Record{}, fmt.Errorf("%w: document is %q, submission wants %q", ErrModeMismatch, got, wantCd)
	}
	if ok, retryAfter := c.limiter.Allow(efin); !ok {
		return ack.Record{}, RateLimitErr{EFIN: efin, RetryAfter: retryAfter}
	}

	payload, err := signed.Document.MarshalIndent()
	if err != nil {
		return ack.Record{}, err
	}
	taxYear := meta.TaxYear
	if taxYear == 0 {
		taxYear, _ = strconv.Atoi(signed.Document.Envelope.Header.TaxYr)
	}

	body, err := c.exchange(ctx, OpSubmit, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/submissions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/xml")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-EFIN", efin)
		if ptin != "" {
			req.Header.Set("X-PTIN", ptin)
		}
		req.Header.Set("X-Tax-Year", strconv.Itoa(taxYear))
		req.Header.Set("X-Transmission-Id", signed.Document.TransmissionID)
		req.Header.Set(IdempotencyHeader, signed.Document.TransmissionID)
		return req, nil
	})
	if err != nil {
		c.logger.Warn("submission failed", "efin", efin, "transmissionId", signed.Document.TransmissionID, "error", err)
		return ack.Record{}, err
	}

	var receipt submissionReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return ack.Record{}, &TransportError{Op: OpSubmit, Attempts: 1, Err: fmt.Errorf("decode receipt: %w", err)}
	}
	if receipt.SubmissionID == "" {
		return ack.Record{}, &TransportError{Op: OpSubmit, Attempts: 1, Err: errors.New("receipt has no submissionId")}
	}
	submittedAt := receipt.ReceivedAt
	if submittedAt.IsZero() {
		submittedAt = c.now()
	}

	cn := c.newConfirmation()
	rec := ack.NewRecord(cn, ack.Meta{
		SubmissionID: receipt.SubmissionID,
		TaxYear:      taxYear,
		EFIN:         efin,
		PTIN:         ptin,
		TestMode:     meta.TestMode,
		Detail:       "accepted for processing by endpoint",
		SubmittedAt:  submittedAt,
	}, submittedAt)
	c.logger.Info("submission accepted by endpoint", "efin", efin, "confirmationNumber", cn, "submissionId", receipt.SubmissionID, "testMode", meta.TestMode)
	return rec, nil
}

// CheckStatus asks the endpoint for the current acknowledgment state.
func (c *Client) CheckStatus(ctx context.Context, q StatusQuery) (StatusReport, error) {
	efin := strings.TrimSpace(q.EFIN)
	if efin == "" {
		return StatusReport{}, ErrEFINRequired
	}
	endpoint, err := c.cfg.Endpoint(q.TestMode)
	if err != nil {
		return StatusReport{}, err
	}
	id := q.SubmissionID
	if id == "" {
		id = q.ConfirmationNumber
	}
	target := fmt.Sprintf("%s/submissions/%s/acknowledgment?efin=%s", endpoint, url.PathEscape(id), url.QueryEscape(efin))

	body, err := c.exchange(ctx, OpStatusCheck, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-EFIN", efin)
		return req, nil
	})
	if err != nil {
		return StatusReport{}, err
	}
	var report StatusReport
	if err := json.Unmarshal(body, &report); err != nil {
		return StatusReport{}, &TransportError{Op: OpStatusCheck, Attempts: 1, Err: fmt.Errorf("decode acknowledgment: %w", err)}
	}
	if !report.Status.Valid() {
		return StatusReport{}, fmt.Errorf("%w: %q", ErrUnknownStatus, report.Status)
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = c.now().UTC()
	}
	return report, nil
}

// exchange sends a request with retry. Only network failures, 429 and 5xx
// are retried; the wait doubles from RetryBaseDelay each attempt.
func (c *Client) exchange(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	attempt := 0
	for {
		attempt++
		start := time.Now()
		body, err := c.attempt(ctx, build)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.observe(op, outcome, time.Since(start).Seconds())
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TransportError{Op: op, Attempts: attempt, Err: err}
		}
		if !retryable(err) {
			return nil, &TransportError{Op: op, Attempts: attempt, Err: err}
		}
		if attempt >= c.cfg.MaxAttempts {
			return nil, &TransportError{Op: op, Attempts: attempt, Exhausted: true, Err: err}
		}
		backoff := c.cfg.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
		c.logger.Debug("retrying endpoint request", "op", op, "attempt", attempt, "backoff", backoff, "error", err)
		c.metrics.retry(op)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, &TransportError{Op: op, Attempts: attempt, Err: ctx.Err()}
		}
	}
}

func (c *Client) attempt(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		reqCtx := ctx
		if c.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
			defer cancel()
		}
		req, err := build(reqCtx)
		if err != nil {
			return nil, permanentError{err: err}
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if len(body) > maxErrorBody {
				body = body[:maxErrorBody]
			}
			return nil, &EndpointError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func retryable(err error) bool {
	var p permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var ee *EndpointError
	if errors.As(err, &ee) {
		return ee.Temporary()
	}
	return true
}
