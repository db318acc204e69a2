package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-pak", 0)
}

func TestClientReadySucceedsOn2xx(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/readyz" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.Ready(t.Context()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func TestClientReadyFailsOnNon2xx(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := c.Ready(t.Context()); err == nil {
		t.Fatal("expected an error for a non-2xx readyz response")
	}
}

func TestClientAuthenticateSendsBearerAndParsesIdentity(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-pak" {
			t.Fatalf("expected bearer auth header, got %q", got)
		}
		if r.URL.Path != "/api/v1/auth/pak" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Identity{AgentID: "agent-1"})
	})
	identity, err := c.Authenticate(t.Context())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.AgentID != "agent-1" {
		t.Fatalf("expected agent id %q, got %q", "agent-1", identity.AgentID)
	}
}

func TestClientApplicableDeploymentObjects(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/agent-1/applicable-deployment-objects" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]DeploymentObject{{ID: "do-1", StackID: "stack-1"}})
	})
	objs, err := c.ApplicableDeploymentObjects(t.Context(), "agent-1")
	if err != nil {
		t.Fatalf("ApplicableDeploymentObjects: %v", err)
	}
	if len(objs) != 1 || objs[0].ID != "do-1" {
		t.Fatalf("unexpected objects: %+v", objs)
	}
}

func TestClientClaimWorkOrderSurfacesConflictAsError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already claimed", http.StatusConflict)
	})
	if _, err := c.ClaimWorkOrder(t.Context(), "wo-1", "agent-1"); err == nil {
		t.Fatal("expected a 409 conflict to surface as an error")
	}
}

func TestClientClaimDiagnosticUsesQueryParam(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("agent_id") != "agent-1" {
			t.Fatalf("expected agent_id query param, got %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.ClaimDiagnostic(t.Context(), "diag-1", "agent-1"); err != nil {
		t.Fatalf("ClaimDiagnostic: %v", err)
	}
}

func TestClientCompleteWebhookDelivery(t *testing.T) {
	var gotBody map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/webhook-deliveries/wd-1/complete" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.CompleteWebhookDelivery(t.Context(), "wd-1", "agent-1", 200, "ok"); err != nil {
		t.Fatalf("CompleteWebhookDelivery: %v", err)
	}
	if gotBody["status_code"].(float64) != 200 {
		t.Fatalf("expected status_code 200 in request body, got %v", gotBody["status_code"])
	}
}
