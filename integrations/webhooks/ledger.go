package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"goldchain/core/events"
	"goldchain/native/ledger"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventLedgerInitialized is delivered once the admin has been fixed.
	EventLedgerInitialized EventType = "ledger.initialized"
	// EventLedgerRecorded is delivered for every committed ledger.
	EventLedgerRecorded EventType = "ledger.recorded"

	EventHeader     = "X-Goldchain-Event"
	SignatureHeader = "X-Goldchain-Signature"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second

	meterName = "goldchain/webhooks"
)

// InitializedPayload describes the webhook body for initialisation.
type InitializedPayload struct {
	Type       EventType `json:"type"`
	Admin      string    `json:"admin"`
	DeliveryID string    `json:"deliveryId"`
}

// RecordedPayload describes the webhook body for a committed ledger.
type RecordedPayload struct {
	Type       EventType `json:"type"`
	Key        string    `json:"key"`
	Position   uint64    `json:"position"`
	TrackingID string    `json:"trackingId"`
	LotID      string    `json:"lotId"`
	RecordedAt uint64    `json:"recordedAt"`
	DeliveryID string    `json:"deliveryId"`
}

// Dispatcher delivers signed webhook payloads with retry and exponential
// backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	meters      metric.MeterProvider
	metrics     deliveryMetrics

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger sets the logger used for failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMeterProvider sets the provider for delivery counters. The global
// provider is used otherwise.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(d *Dispatcher) {
		if provider != nil {
			d.meters = provider
		}
	}
}

type deliveryMetrics struct {
	delivered metric.Int64Counter
	abandoned metric.Int64Counter
}

func newDeliveryMetrics(provider metric.MeterProvider) deliveryMetrics {
	meter := provider.Meter(meterName)
	fallback := noop.NewMeterProvider().Meter(meterName)
	delivered, err := meter.Int64Counter("goldchain.webhooks.delivered",
		metric.WithDescription("Webhook deliveries acknowledged by the endpoint."))
	if err != nil {
		delivered, _ = fallback.Int64Counter("goldchain.webhooks.delivered")
	}
	abandoned, err := meter.Int64Counter("goldchain.webhooks.abandoned",
		metric.WithDescription("Webhook deliveries dropped after the final retry."))
	if err != nil {
		abandoned, _ = fallback.Int64Counter("goldchain.webhooks.abandoned")
	}
	return deliveryMetrics{delivered: delivered, abandoned: abandoned}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		meters:      otel.GetMeterProvider(),
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 32),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.metrics = newDeliveryMetrics(dispatcher.meters)
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueInitialized sends an initialisation event asynchronously.
func (d *Dispatcher) EnqueueInitialized(payload InitializedPayload) error {
	payload.Type = EventLedgerInitialized
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("init-%d", time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// EnqueueRecorded sends a recorded event asynchronously.
func (d *Dispatcher) EnqueueRecorded(payload RecordedPayload) error {
	payload.Type = EventLedgerRecorded
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("recorded-%d-%d", payload.Position, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// Forward enqueues every ledger event read from stream until it closes or ctx
// ends.
func (d *Dispatcher) Forward(ctx context.Context, stream <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			if err := d.forward(evt); err != nil {
				d.logger.Warn("webhook enqueue failed",
					slog.String("component", "webhooks"),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (d *Dispatcher) forward(evt events.Event) error {
	record, ok := evt.(*events.Record)
	if !ok {
		return nil
	}
	switch record.Type {
	case ledger.EventTypeInitialized:
		return d.EnqueueInitialized(InitializedPayload{Admin: record.Attr("admin")})
	case ledger.EventTypeRecorded:
		position, err := strconv.ParseUint(record.Attr("index"), 10, 64)
		if err != nil {
			return fmt.Errorf("webhook: event index: %w", err)
		}
		recordedAt, err := strconv.ParseUint(record.Attr("recordedAt"), 10, 64)
		if err != nil {
			return fmt.Errorf("webhook: event recordedAt: %w", err)
		}
		return d.EnqueueRecorded(RecordedPayload{
			Key:        record.Attr("key"),
			Position:   position,
			TrackingID: record.Attr("trackingId"),
			LotID:      record.Attr("lotId"),
			RecordedAt: recordedAt,
			DeliveryID: record.Attr("key"),
		})
	}
	return nil
}

func (d *Dispatcher) enqueue(eventType EventType, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		eventAttr := metric.WithAttributes(attribute.String("event", string(job.eventType)))
		if err == nil {
			d.metrics.delivered.Add(context.Background(), 1, eventAttr)
			return
		}
		if attempt >= d.maxAttempts {
			d.metrics.abandoned.Add(context.Background(), 1, eventAttr)
			d.logger.Error("webhook delivery abandoned",
				slog.String("component", "webhooks"),
				slog.String("reason", string(job.eventType)),
				slog.String("error", err.Error()))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(job.eventType))
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
