package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func mustWebhookSubscription(t *testing.T, st *Store, name string, targetLabels Labels) *WebhookSubscription {
	t.Helper()
	sub := &WebhookSubscription{
		Name:           name,
		URLCiphertext:  []byte("ciphertext"),
		URLNonce:       []byte("nonce"),
		AuthCiphertext: nil,
		AuthNonce:      nil,
		EventTypes:     []string{"deploymentobject.*"},
		Filters:        []byte("{}"),
		TargetLabels:   targetLabels,
		Secret:         "shh",
		Enabled:        true,
		MaxRetries:     5,
		TimeoutSeconds: 10,
		CreatedBy:      "admin",
	}
	out, err := st.CreateWebhookSubscription(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCreateAndGetWebhookSubscription(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sub := mustWebhookSubscription(t, st, "wh-roundtrip", nil)
	got, err := st.GetWebhookSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "wh-roundtrip" || got.Secret != "shh" {
		t.Fatalf("GetWebhookSubscription() = %+v, want name=wh-roundtrip secret=shh", got)
	}
}

func TestListEnabledWebhookSubscriptionsExcludesDisabled(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	enabled := mustWebhookSubscription(t, st, "wh-enabled", nil)
	disabled := mustWebhookSubscription(t, st, "wh-disabled", nil)
	if _, err := st.pool.Exec(ctx, `UPDATE webhook_subscriptions SET enabled = false WHERE id = $1`, disabled.ID); err != nil {
		t.Fatal(err)
	}

	subs, err := st.ListEnabledWebhookSubscriptions(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var sawEnabled, sawDisabled bool
	for _, s := range subs {
		if s.ID == enabled.ID {
			sawEnabled = true
		}
		if s.ID == disabled.ID {
			sawDisabled = true
		}
	}
	if !sawEnabled || sawDisabled {
		t.Fatalf("expected only the enabled subscription listed, sawEnabled=%v sawDisabled=%v", sawEnabled, sawDisabled)
	}
}

func TestEnqueueAndClaimBrokerDelivery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sub := mustWebhookSubscription(t, st, "wh-broker-delivered", nil)
	var delivery *WebhookDelivery
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		delivery, err = st.EnqueueWebhookDelivery(ctx, tx, sub.ID, []byte(`{"type":"x"}`), nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if delivery.Status != DeliveryPending {
		t.Fatalf("expected pending delivery, got %s", delivery.Status)
	}

	claimed, err := st.ClaimBrokerDeliveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range claimed {
		if d.ID == delivery.ID {
			found = true
			if d.Status != DeliveryInFlight {
				t.Fatalf("expected claimed delivery to be in_flight, got %s", d.Status)
			}
		}
	}
	if !found {
		t.Fatal("expected broker-delivered delivery to be claimed")
	}
}

func TestPendingAgentDeliveriesOnlyReturnsTargetedSubscriptions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agentSub := mustWebhookSubscription(t, st, "wh-agent-delivered", Labels{"env": {"prod"}})
	brokerSub := mustWebhookSubscription(t, st, "wh-broker-delivered-2", nil)

	var agentDelivery, brokerDelivery *WebhookDelivery
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		agentDelivery, err = st.EnqueueWebhookDelivery(ctx, tx, agentSub.ID, []byte(`{}`), agentSub.TargetLabels)
		if err != nil {
			return err
		}
		brokerDelivery, err = st.EnqueueWebhookDelivery(ctx, tx, brokerSub.ID, []byte(`{}`), nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	pending, err := st.PendingAgentDeliveries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var sawAgent, sawBroker bool
	for _, d := range pending {
		if d.ID == agentDelivery.ID {
			sawAgent = true
		}
		if d.ID == brokerDelivery.ID {
			sawBroker = true
		}
	}
	if !sawAgent || sawBroker {
		t.Fatalf("expected only the agent-delivered delivery, sawAgent=%v sawBroker=%v", sawAgent, sawBroker)
	}
}

func TestCompleteDeliveryRetryableBumpsAttempt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := mustWebhookSubscription(t, st, "wh-retry", nil)

	var delivery *WebhookDelivery
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		delivery, err = st.EnqueueWebhookDelivery(ctx, tx, sub.ID, []byte(`{}`), nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	next := time.Now().Add(time.Minute)
	if err := st.CompleteDeliveryRetryable(ctx, delivery.ID, 503, "service unavailable", next); err != nil {
		t.Fatal(err)
	}

	subs, err := st.ClaimBrokerDeliveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range subs {
		if d.ID == delivery.ID {
			t.Fatal("retryable delivery with a future next_attempt_at must not be claimable yet")
		}
	}
}

func TestSoftDeleteWebhookSubscription(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := mustWebhookSubscription(t, st, "wh-soft-delete", nil)

	if err := st.SoftDeleteWebhookSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetWebhookSubscription(ctx, sub.ID); !IsNotFound(err) {
		t.Fatalf("expected NotFound after soft delete, got %v", err)
	}
}
