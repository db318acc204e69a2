package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brokkr-io/brokkr/internal/store"
)

func newTestWorkerStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("BROKKR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BROKKR_TEST_DATABASE_URL not set; skipping Postgres-backed test")
	}
	st, err := store.New(context.Background(), dsn, 4)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func mustSubscription(t *testing.T, st *store.Store, cipher *Cipher, name, destURL string, maxRetries int) *store.WebhookSubscription {
	t.Helper()
	ciphertext, nonce, err := cipher.Seal(destURL)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := st.CreateWebhookSubscription(context.Background(), &store.WebhookSubscription{
		Name:           name,
		URLCiphertext:  ciphertext,
		URLNonce:       nonce,
		EventTypes:     []string{"workorder.created"},
		Filters:        []byte("{}"),
		Secret:         "shh",
		Enabled:        true,
		MaxRetries:     maxRetries,
		TimeoutSeconds: 5,
		CreatedBy:      "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestWorkerDeliverSuccess(t *testing.T) {
	st := newTestWorkerStore(t)
	cipher := testCipher(t)
	ctx := context.Background()

	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("X-Brokkr-Signature") == "" {
			t.Error("expected signature header on delivery request")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sub := mustSubscription(t, st, cipher, "worker-success", ts.URL, 3)
	delivery, err := st.EnqueueWebhookDelivery(ctx, nil, sub.ID, []byte(`{"event_type":"workorder.created"}`), nil)
	if err != nil {
		t.Fatal(err)
	}

	w := NewWorker(st, cipher, time.Second, 10, nil)
	w.drainOnce(ctx)

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly 1 delivery attempt, got %d", hits)
	}
	claimed, err := st.ClaimBrokerDeliveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range claimed {
		if d.ID == delivery.ID {
			t.Fatal("expected the succeeded delivery to no longer be pending")
		}
	}
}

func TestWorkerDeliverRetryableThenTerminal(t *testing.T) {
	st := newTestWorkerStore(t)
	cipher := testCipher(t)
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	sub := mustSubscription(t, st, cipher, "worker-retry", ts.URL, 1)
	if _, err := st.EnqueueWebhookDelivery(ctx, nil, sub.ID, []byte(`{"event_type":"workorder.created"}`), nil); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(st, cipher, time.Second, 10, nil)
	w.drainOnce(ctx)

	// MaxRetries is 1, so attempt 0 -> 1 exhausts retries and goes terminal
	// rather than scheduling a next attempt.
	claimed, err := st.ClaimBrokerDeliveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected delivery to be terminal (not re-claimable), got %+v", claimed)
	}
}

func TestWorkerSkipsMissingSubscription(t *testing.T) {
	st := newTestWorkerStore(t)
	cipher := testCipher(t)
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sub := mustSubscription(t, st, cipher, "worker-delete-race", ts.URL, 3)
	delivery, err := st.EnqueueWebhookDelivery(ctx, nil, sub.ID, []byte(`{}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SoftDeleteWebhookSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(st, cipher, time.Second, 10, nil)
	w.deliver(ctx, delivery)
}
