package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/store"
	"github.com/brokkr-io/brokkr/internal/workorder"
)

// Worker drains broker-delivered webhook deliveries on a ticker, POSTing
// each to its subscription's destination and classifying the response via
// Classify. Agent-delivered subscriptions (spec.md §4.5's "agent-relayed"
// mode) are not drained here; agents pull those through
// GET /webhook-deliveries/pending themselves.
type Worker struct {
	store    *store.Store
	cipher   *Cipher
	client   *http.Client
	interval time.Duration
	batch    int
	policy   workorder.Policy
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker builds a Worker. cipher decrypts each subscription's stored
// URL/auth-header ciphertext just before the HTTP call.
func NewWorker(st *store.Store, cipher *Cipher, interval time.Duration, batch int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 20
	}
	return &Worker{
		store:    st,
		cipher:   cipher,
		client:   &http.Client{Timeout: 30 * time.Second},
		interval: interval,
		batch:    batch,
		policy:   workorder.DefaultPolicy(),
		logger:   logger,
	}
}

// Start runs the drain loop in the background.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				w.drainOnce(loopCtx)
			}
		}
	}()
}

// Stop halts the drain loop and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.cancel = nil
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) drainOnce(ctx context.Context) {
	deliveries, err := w.store.ClaimBrokerDeliveries(ctx, w.batch)
	if err != nil {
		w.logger.Warn("claim broker deliveries failed", zap.Error(err))
		return
	}
	for _, d := range deliveries {
		w.deliver(ctx, d)
	}
}

func (w *Worker) deliver(ctx context.Context, d *store.WebhookDelivery) {
	sub, err := w.store.GetWebhookSubscription(ctx, d.SubscriptionID)
	if err != nil {
		w.logger.Warn("webhook delivery references missing subscription",
			zap.String("delivery_id", d.ID), zap.Error(err))
		if err := w.store.CompleteDeliveryTerminal(ctx, d.ID, 0, "subscription not found"); err != nil {
			w.logger.Warn("mark delivery terminal failed", zap.Error(err))
		}
		return
	}

	url, err := w.cipher.Open(sub.URLCiphertext, sub.URLNonce)
	if err != nil {
		w.logger.Warn("decrypt webhook URL failed", zap.String("subscription_id", sub.ID), zap.Error(err))
		if err := w.store.CompleteDeliveryTerminal(ctx, d.ID, 0, "destination undecryptable"); err != nil {
			w.logger.Warn("mark delivery terminal failed", zap.Error(err))
		}
		return
	}

	statusCode, body, reqErr := w.post(ctx, sub, url, d.Event)
	outcome := Classify(statusCode)
	response := truncateResponse(body)

	switch outcome {
	case OutcomeSuccess:
		if err := w.store.CompleteDeliverySuccess(ctx, d.ID, statusCode, response); err != nil {
			w.logger.Warn("mark delivery success failed", zap.Error(err))
		}
	case OutcomeRetryable:
		if d.Attempt+1 >= sub.MaxRetries {
			if err := w.store.CompleteDeliveryTerminal(ctx, d.ID, statusCode, response); err != nil {
				w.logger.Warn("mark delivery terminal failed", zap.Error(err))
			}
			return
		}
		delay := w.policy.NextDelay(d.Attempt + 1)
		if err := w.store.CompleteDeliveryRetryable(ctx, d.ID, statusCode, response, time.Now().Add(delay)); err != nil {
			w.logger.Warn("mark delivery retryable failed", zap.Error(err))
		}
	case OutcomeTerminal:
		if reqErr != nil {
			response = reqErr.Error()
		}
		if err := w.store.CompleteDeliveryTerminal(ctx, d.ID, statusCode, response); err != nil {
			w.logger.Warn("mark delivery terminal failed", zap.Error(err))
		}
	}
}

func (w *Worker) post(ctx context.Context, sub *store.WebhookSubscription, url string, event []byte) (statusCode int, body string, err error) {
	timeout := time.Duration(sub.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(event))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Signature", Sign(sub.Secret, event))
	if len(sub.AuthCiphertext) > 0 {
		if auth, decErr := w.cipher.Open(sub.AuthCiphertext, sub.AuthNonce); decErr == nil && auth != "" {
			req.Header.Set("Authorization", auth)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, string(data), nil
}

func truncateResponse(body string) string {
	const maxLen = 4096
	if len(body) > maxLen {
		return body[:maxLen]
	}
	return body
}
