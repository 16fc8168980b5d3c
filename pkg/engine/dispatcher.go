package engine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/store"
)

const (
	// CursorKey is the key used in system_state to store the last delivered event seq.
	CursorKey = "webhook_dispatcher_cursor"
	// BatchSize is the number of events to fetch per poll.
	BatchSize = 50
	// PollInterval is how often to check for new events.
	PollInterval = 1 * time.Second
	// DefaultTimeout is the HTTP client timeout for webhook requests.
	DefaultTimeout = 5 * time.Second
	// MaxRetries is the number of delivery attempts.
	MaxRetries = 3
)

// Dispatcher delivers recorded graph events to registered webhooks.
type Dispatcher struct {
	store        *store.Store
	client       *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
	retryDelay   time.Duration
}

// NewDispatcher creates a new webhook dispatcher.
func NewDispatcher(s *store.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        s,
		client:       &http.Client{Timeout: DefaultTimeout},
		logger:       logger,
		pollInterval: PollInterval,
		retryDelay:   time.Second,
	}
}

// Start begins the event polling and dispatch loop.
// It blocks until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("webhook_dispatcher_started")

	cursor, err := d.loadCursor(ctx)
	if err != nil {
		// No cursor yet: start from the current end of the log so new hooks do not get history.
		cursor, err = d.store.LatestSeq(ctx)
		if err != nil {
			d.logger.Error("failed_to_load_dispatcher_cursor", "error", err)
		}
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("webhook_dispatcher_stopped")
			return
		case <-ticker.C:
			next, count, err := d.ProcessBatch(ctx, cursor)
			if err != nil {
				d.logger.Error("webhook_batch_failed", "error", err)
				continue
			}
			if count > 0 {
				cursor = next
				if err := d.saveCursor(ctx, cursor); err != nil {
					d.logger.Error("failed_to_save_dispatcher_cursor", "error", err)
				}
			}
		}
	}
}

// ProcessBatch delivers the events after cursor and returns the new cursor and
// how many events were handled. Delivery failures are logged and skipped.
func (d *Dispatcher) ProcessBatch(ctx context.Context, cursor int64) (int64, int, error) {
	events, err := d.store.ReadEventsAfterSeq(ctx, cursor, BatchSize)
	if err != nil {
		return cursor, 0, err
	}
	if len(events) == 0 {
		return cursor, 0, nil
	}

	webhooks, err := d.store.ListWebhooks(ctx)
	if err != nil {
		return cursor, 0, fmt.Errorf("failed to list webhooks: %w", err)
	}
	var active []*store.WebhookConfig
	for _, w := range webhooks {
		if w.Active {
			active = append(active, w)
		}
	}

	for _, evt := range events {
		for _, wh := range active {
			if !wh.Wants(evt.EventType) {
				continue
			}
			if err := d.send(ctx, wh, evt); err != nil {
				WebhookDeliveries.WithLabelValues("failed").Inc()
				d.logger.Warn("webhook_delivery_failed", "event_id", string(evt.EventID), "webhook_id", wh.WebhookID, "error", err)
				continue
			}
			WebhookDeliveries.WithLabelValues("delivered").Inc()
		}
		cursor = evt.Seq
	}
	return cursor, len(events), nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// send performs the HTTP POST with retries.
func (d *Dispatcher) send(ctx context.Context, wh *store.WebhookConfig, evt *store.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for i := 0; i < MaxRetries; i++ {
		if i > 0 {
			// Linear backoff: 1x, 2x the retry delay
			select {
			case <-time.After(time.Duration(i) * d.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "policycanvas-dispatcher/1.0")
		req.Header.Set("X-PolicyCanvas-Event-ID", string(evt.EventID))
		req.Header.Set("X-PolicyCanvas-Event-Type", string(evt.EventType))
		if wh.Secret != "" {
			req.Header.Set("X-PolicyCanvas-Signature", "sha256="+Sign(wh.Secret, payload))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook responded with status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr // Don't retry client errors
		}
	}

	return fmt.Errorf("max retries reached: %w", lastErr)
}

func (d *Dispatcher) loadCursor(ctx context.Context) (int64, error) {
	val, err := d.store.GetSystemState(ctx, CursorKey)
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt dispatcher cursor %q: %w", val, err)
	}
	return seq, nil
}

func (d *Dispatcher) saveCursor(ctx context.Context, seq int64) error {
	return d.store.SetSystemState(ctx, CursorKey, strconv.FormatInt(seq, 10))
}
