// Package transport delivers request documents to the ERP connector: endpoint
// liveness, bounded retries, throttling and license checks.
package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/erp"
	"github.com/jafarshop/erpsync/internal/hooks"
	"github.com/jafarshop/erpsync/internal/metrics"
	"github.com/jafarshop/erpsync/pkg/errors"
)

type Client struct {
	cfg        config.ERPConfig
	httpClient *http.Client
	health     *HealthMonitor
	throttle   *ThrottleGuard
	license    LicenseGate
	observer   hooks.TransportObserver
	metrics    *metrics.Metrics
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	license    LicenseGate
	transport  hooks.TransportObserver
	connection hooks.ConnectionObserver
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

func WithLicenseGate(g LicenseGate) Option {
	return func(o *clientOptions) { o.license = g }
}

func WithTransportObserver(obs hooks.TransportObserver) Option {
	return func(o *clientOptions) { o.transport = obs }
}

func WithConnectionObserver(obs hooks.ConnectionObserver) Option {
	return func(o *clientOptions) { o.connection = obs }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithSleep replaces the wait between retries
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *clientOptions) { o.sleep = fn }
}

// WithClock replaces the time source of the health cache and throttle guard
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// NewClient creates a new ERP transport client
func NewClient(cfg config.ERPConfig, logger *zap.Logger, opts ...Option) *Client {
	o := clientOptions{
		transport: hooks.Nop{},
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Timeout: cfg.ConnectionTimeout,
		}
	}
	if o.license == nil {
		o.license = NewBcryptLicense(cfg, logger)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: o.httpClient,
		throttle:   NewThrottleGuard(cfg.ThrottleCooldown),
		license:    o.license,
		observer:   o.transport,
		metrics:    o.metrics,
		logger:     logger,
		sleep:      o.sleep,
	}
	c.throttle.now = o.now
	c.health = NewHealthMonitor(cfg.HealthTTL, c, o.connection, o.metrics, logger)
	c.health.now = o.now
	return c
}

// Health returns the endpoint health cache
func (c *Client) Health() *HealthMonitor {
	return c.health
}

// Throttle returns the too-many-requests cooldown tracker
func (c *Client) Throttle() *ThrottleGuard {
	return c.throttle
}

// Request is one logical submission to the ERP
type Request struct {
	Endpoint     Endpoint
	Document     *erp.Document
	ActorKey     string
	RetryAllowed bool
	ThrowOnError bool
	SyncContext  domain.SyncContext
	Order        *domain.Order
}

// Reply is the outcome of Execute
type Reply struct {
	Status   domain.SyncStatus
	Document *erp.Document
	Raw      string
	Attempts int
	Err      error
}

// Send posts body to the endpoint once and classifies the failure, if any
func (c *Client) Send(ctx context.Context, ep Endpoint, body []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.KindConnection, "create request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("Accept", "text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.KindConnection, "send", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.KindConnection, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &errors.SyncError{Kind: errors.KindTooManyRequests, Op: "send", StatusCode: resp.StatusCode}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &errors.SyncError{Kind: errors.KindServerRejected, Op: "send", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%s", truncate(respBody, 512))}
	case resp.StatusCode >= http.StatusBadRequest:
		// retryable, but the endpoint is up
		return nil, &errors.SyncError{Kind: errors.KindConnection, Op: "send", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%s", truncate(respBody, 512))}
	}
	return respBody, nil
}

// Ping sends the liveness document. Any HTTP answer, even a rejection, means the
// endpoint is reachable.
func (c *Client) Ping(ctx context.Context, ep Endpoint) error {
	body, err := erp.NewDocument(erp.SubmitTypePing, erp.SubmitTypePing).Marshal()
	if err != nil {
		return err
	}
	_, err = c.Send(ctx, ep, body, c.cfg.ProbeTimeout)
	if err == nil || statusCode(err) != 0 {
		return nil
	}
	return err
}

// statusCode returns the HTTP status carried by a send error, or 0 when the
// endpoint never answered
func statusCode(err error) int {
	var syncErr *errors.SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr.StatusCode
	}
	return 0
}

// IsReachable consults the health cache and probes only when it is stale
func (c *Client) IsReachable(ctx context.Context, ep Endpoint) bool {
	return c.health.IsReachable(ctx, ep)
}

// Execute delivers a request with liveness checks, throttling, license checks
// and bounded retries. The returned error is non-nil only when the request
// asked for errors to be surfaced and the call ended in failure.
func (c *Client) Execute(ctx context.Context, req Request) (*Reply, error) {
	ep := req.Endpoint
	log := c.logger.With(
		zap.String("endpoint", ep.ID),
		zap.String("submit_type", req.Document.SubmitType),
		zap.String("reference", req.Document.ReferenceName),
	)

	throttleKey := ThrottleKey(req.ActorKey, ep.InstanceID)
	if c.throttle.IsThrottled(throttleKey) {
		c.metrics.ObserveThrottled()
		log.Debug("ERP call suppressed by throttle cooldown", zap.String("actor", req.ActorKey))
		return c.finish(req, &Reply{
			Status: domain.SyncUnattempted,
			Err:    errors.New(errors.KindTooManyRequests, "throttle", fmt.Errorf("cooldown active")),
		})
	}

	if reply := c.awaitReachable(ctx, req, log); reply != nil {
		return c.finish(req, reply)
	}

	if !c.license.ValidateEndpoint(ep.URL) {
		return c.finish(req, &Reply{
			Status: domain.SyncUnattempted,
			Err:    errors.New(errors.KindLicenseInvalid, "validate endpoint", fmt.Errorf("endpoint %s is not licensed", ep.ID)),
		})
	}

	body, err := req.Document.Marshal()
	if err != nil {
		return c.finish(req, &Reply{Status: domain.SyncFailed, Err: err})
	}

	ev := &hooks.SendEvent{
		EndpointID:  ep.ID,
		URL:         ep.URL,
		Request:     string(body),
		SyncContext: req.SyncContext,
		Order:       req.Order,
	}
	if !c.observer.BeforeSend(ctx, ev) {
		log.Info("ERP call cancelled by before-send hook")
		return c.finish(req, &Reply{
			Status: domain.SyncUnattempted,
			Err:    errors.New(errors.KindCancelled, "before send", nil),
		})
	}

	return c.finish(req, c.sendLoop(ctx, req, body, ev, log))
}

// awaitReachable returns nil once the endpoint is reachable, or the
// unattempted reply to give up with
func (c *Client) awaitReachable(ctx context.Context, req Request, log *zap.Logger) *Reply {
	ep := req.Endpoint
	reachable := c.health.IsReachable(ctx, ep)
	for attempt := 1; !reachable; attempt++ {
		if !req.RetryAllowed || attempt >= c.cfg.MaxRetryCount {
			log.Warn("ERP endpoint unreachable, giving up", zap.Int("checks", attempt))
			return &Reply{
				Status: domain.SyncUnattempted,
				Err:    errors.New(errors.KindConnection, "check liveness", fmt.Errorf("endpoint %s unreachable", ep.ID)),
			}
		}
		if err := c.sleep(ctx, c.cfg.RetryInterval); err != nil {
			return &Reply{Status: domain.SyncUnattempted, Err: errors.New(errors.KindConnection, "check liveness", err)}
		}
		reachable = c.health.Probe(ctx, ep)
	}
	return nil
}

func (c *Client) sendLoop(ctx context.Context, req Request, body []byte, ev *hooks.SendEvent, log *zap.Logger) *Reply {
	ep := req.Endpoint
	retry := req.RetryAllowed
	var lastErr error

	for attempt := 1; ; attempt++ {
		ev.Attempt = attempt
		ev.Err = nil
		ev.Response = ""

		raw, err := c.Send(ctx, ep, body, c.cfg.ConnectionTimeout)
		if err == nil {
			c.health.RecordSuccess(ep)
			ev.Response = string(raw)

			doc, perr := erp.ParseDocument(raw)
			switch {
			case perr != nil:
				lastErr = perr
				var mismatch *erp.SchemaMismatchError
				if stderrors.As(perr, &mismatch) {
					retry = false
				}
			case !c.license.ValidateResponse(ep.URL, doc):
				lastErr = errors.New(errors.KindLicenseInvalid, "validate response", fmt.Errorf("response from %s is not licensed", ep.ID))
				retry = false
			default:
				c.metrics.ObserveAttempt(ep.ID, "success")
				c.observer.AfterSend(ctx, ev)
				return &Reply{Status: domain.SyncSucceeded, Document: doc, Raw: string(raw), Attempts: attempt}
			}
		} else {
			lastErr = err
			switch errors.KindOf(err) {
			case errors.KindServerRejected:
				// reached, but rejected: retrying will not help and the endpoint is healthy
				c.health.RecordSuccess(ep)
				retry = false
			case errors.KindTooManyRequests:
				c.throttle.RecordTooManyRequests(ThrottleKey(req.ActorKey, ep.InstanceID))
				retry = false
			default:
				// a 4xx answer proves liveness the same way it does for Ping
				if statusCode(err) != 0 {
					c.health.RecordSuccess(ep)
				} else {
					c.health.RecordFailure(ep)
				}
			}
		}

		ev.Err = lastErr
		c.metrics.ObserveAttempt(ep.ID, string(errors.KindOf(lastErr)))
		c.observer.AfterException(ctx, ev)
		log.Warn("ERP request attempt failed",
			zap.Int("attempt", attempt),
			zap.String("kind", string(errors.KindOf(lastErr))),
			zap.Error(lastErr),
		)

		if !retry || attempt >= c.cfg.MaxRetryCount {
			return &Reply{Status: domain.SyncFailed, Attempts: attempt, Err: lastErr}
		}
		if err := c.sleep(ctx, c.cfg.RetryInterval); err != nil {
			return &Reply{Status: domain.SyncFailed, Attempts: attempt, Err: lastErr}
		}
	}
}

func (c *Client) finish(req Request, reply *Reply) (*Reply, error) {
	if reply.Status == domain.SyncFailed {
		c.logger.Error("ERP request failed",
			zap.String("endpoint", req.Endpoint.ID),
			zap.Int("attempts", reply.Attempts),
			zap.Error(reply.Err),
		)
		if req.ThrowOnError {
			return reply, reply.Err
		}
	}
	return reply, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
