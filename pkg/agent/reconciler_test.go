package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/brokkr-io/brokkr/internal/webhook"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	return &Reconciler{
		logger:       zap.NewNop(),
		relayClient:  &http.Client{},
		appliedKinds: map[string]map[schema.GroupVersionKind]struct{}{},
	}
}

func TestDispatchWorkOrderRejectsUnknownWorkType(t *testing.T) {
	r := newTestReconciler(t)
	success, retryable, message := r.dispatchWorkOrder(context.Background(), WorkOrder{ID: "wo-1", WorkType: "nonsense"})
	if success {
		t.Fatal("expected unknown work_type to not succeed")
	}
	if retryable {
		t.Fatal("expected unknown work_type to be non-retryable")
	}
	if message == "" {
		t.Fatal("expected a message explaining the unknown work_type")
	}
}

func TestRememberKindsAndKindsSeenFor(t *testing.T) {
	r := newTestReconciler(t)
	r.rememberKinds("stack-1", configMapManifest)

	kinds := r.kindsSeenFor("stack-1")
	if len(kinds) != 1 {
		t.Fatalf("expected 1 remembered kind, got %d", len(kinds))
	}
	if kinds[0].Kind != "ConfigMap" {
		t.Fatalf("expected ConfigMap, got %s", kinds[0].Kind)
	}

	if got := r.kindsSeenFor("unseen-stack"); len(got) != 0 {
		t.Fatalf("expected no kinds for an unseen stack, got %v", got)
	}
}

func TestPostRelayPostsSignedEventToDecryptedURL(t *testing.T) {
	var gotSignature, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		gotSignature = r.Header.Get("X-Brokkr-Signature")
		gotAuth = r.Header.Get("Authorization")
		var buf [256]byte
		n, _ := r.Body.Read(buf[:])
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := newTestReconciler(t)
	event := json.RawMessage(`{"type":"stack.created"}`)
	d := WebhookDelivery{
		ID: "wd-1", URL: srv.URL, Secret: "shh", AuthHeader: "Bearer upstream-token",
		Event: event, TimeoutSeconds: 5,
	}

	statusCode, body, err := r.postRelay(context.Background(), d)
	if err != nil {
		t.Fatalf("postRelay: %v", err)
	}
	if statusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", statusCode)
	}
	if body != "ok" {
		t.Fatalf("expected response body %q, got %q", "ok", body)
	}
	if want := webhook.Sign("shh", event); gotSignature != want {
		t.Fatalf("expected signature %q, got %q", want, gotSignature)
	}
	if gotAuth != "Bearer upstream-token" {
		t.Fatalf("expected forwarded auth header, got %q", gotAuth)
	}
	if gotBody != string(event) {
		t.Fatalf("expected event body forwarded verbatim, got %q", gotBody)
	}
}

func TestRelayWebhookDropsDeliveryWithNoURL(t *testing.T) {
	r := newTestReconciler(t)
	// No broker client wired; if relayWebhook tried to report an outcome
	// here it would panic on a nil client, so this also proves the
	// missing-URL guard returns before ever attempting that.
	r.relayWebhook(context.Background(), WebhookDelivery{ID: "wd-2"})
}

const configMapManifest = `
apiVersion: v1
kind: ConfigMap
metadata:
  name: demo-config
  namespace: default
data:
  key: value
`
