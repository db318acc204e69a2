package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/security"
	"github.com/brokkr-io/brokkr/internal/store"
	"github.com/brokkr-io/brokkr/internal/webhook"
	"github.com/brokkr-io/brokkr/internal/workorder"
)

type webhookSubscriptionResponse struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	EventTypes     []string     `json:"event_types"`
	TargetLabels   store.Labels `json:"target_labels,omitempty"`
	Enabled        bool         `json:"enabled"`
	MaxRetries     int          `json:"max_retries"`
	TimeoutSeconds int          `json:"timeout_seconds"`
	CreatedAt      string       `json:"created_at"`
}

func toWebhookSubscriptionResponse(sub *store.WebhookSubscription) webhookSubscriptionResponse {
	return webhookSubscriptionResponse{
		ID: sub.ID, Name: sub.Name, EventTypes: sub.EventTypes, TargetLabels: sub.TargetLabels,
		Enabled: sub.Enabled, MaxRetries: sub.MaxRetries, TimeoutSeconds: sub.TimeoutSeconds,
		CreatedAt: sub.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type createWebhookSubscriptionRequest struct {
	Name           string       `json:"name"`
	URL            string       `json:"url"`
	AuthHeader     string       `json:"auth_header"`
	EventTypes     []string     `json:"event_types"`
	TargetLabels   store.Labels `json:"target_labels"`
	MaxRetries     int          `json:"max_retries"`
	TimeoutSeconds int          `json:"timeout_seconds"`
}

type createWebhookSubscriptionResponse struct {
	Subscription webhookSubscriptionResponse `json:"subscription"`
	Secret       string                      `json:"secret"`
}

// handleCreateWebhookSubscription registers a new subscription (admin
// only). The destination URL and optional auth header are sealed with the
// broker's encryption key before ever reaching the store (spec.md §9.3); a
// fresh signing secret is minted and returned exactly once.
func (s *Server) handleCreateWebhookSubscription(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	var req createWebhookSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.URL == "" || len(req.EventTypes) == 0 {
		badRequest(w, "name, url, and event_types are required")
		return
	}
	urlCiphertext, urlNonce, err := s.webhookCipher.Seal(req.URL)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	authCiphertext, authNonce, err := s.webhookCipher.Seal(req.AuthHeader)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	secret, err := randomSecret()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	timeoutSeconds := req.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	sub := &store.WebhookSubscription{
		Name: req.Name, URLCiphertext: urlCiphertext, URLNonce: urlNonce,
		AuthCiphertext: authCiphertext, AuthNonce: authNonce,
		EventTypes: req.EventTypes, TargetLabels: req.TargetLabels,
		Secret: secret, Enabled: true, MaxRetries: maxRetries, TimeoutSeconds: timeoutSeconds,
		CreatedBy: "admin",
	}
	created, err := s.store.CreateWebhookSubscription(r.Context(), sub)
	if err != nil {
		s.writeStoreError(w, "CreateWebhookSubscription", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionWebhookCreated, "webhook_subscription", created.ID, map[string]any{
		"name": req.Name, "event_types": req.EventTypes,
	}); err != nil {
		s.logger.Warn("record audit failed")
	}
	writeJSON(w, http.StatusCreated, createWebhookSubscriptionResponse{
		Subscription: toWebhookSubscriptionResponse(created), Secret: secret,
	})
}

func (s *Server) handleListWebhookSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	subs, err := s.store.ListWebhookSubscriptions(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListWebhookSubscriptions", err)
		return
	}
	out := make([]webhookSubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toWebhookSubscriptionResponse(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWebhookSubscription(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	sub, err := s.store.GetWebhookSubscription(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetWebhookSubscription", err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookSubscriptionResponse(sub))
}

func (s *Server) handleDeleteWebhookSubscription(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	if err := s.store.SoftDeleteWebhookSubscription(r.Context(), id); err != nil {
		s.writeStoreError(w, "SoftDeleteWebhookSubscription", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionWebhookDeleted, "webhook_subscription", id, nil); err != nil {
		s.logger.Warn("record audit failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookDeliveryResponse struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Event          json.RawMessage `json:"event"`
	// URL, Secret, AuthHeader, and TimeoutSeconds let the agent perform the
	// same HTTP call internal/webhook.Worker performs for broker-delivered
	// subscriptions, just from inside the agent's own network (spec.md
	// §4.5). URL and AuthHeader are decrypted here, immediately before
	// being handed to the one agent authorized (by label match) to relay
	// this delivery; the store never holds the plaintext.
	URL            string `json:"url"`
	Secret         string `json:"secret"`
	AuthHeader     string `json:"auth_header,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// handlePendingWebhookDeliveries returns agent-delivered deliveries whose
// subscription's target_labels overlap agentID's own labels, per spec.md
// §4.5's agent-relayed mode. Matching rows are marked in_flight before
// being returned so a concurrent poll from the same agent doesn't double
// up on a retry window.
func (s *Server) handlePendingWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if !authpak.RequireAgentOrAdmin(r.Context(), agentID) {
		forbidden(w)
		return
	}
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		s.writeStoreError(w, "GetAgent", err)
		return
	}
	candidates, err := s.store.PendingAgentDeliveries(r.Context())
	if err != nil {
		s.writeStoreError(w, "PendingAgentDeliveries", err)
		return
	}
	out := make([]webhookDeliveryResponse, 0, len(candidates))
	for _, d := range candidates {
		if !labelsOverlap(d.TargetLabels, agent.Labels) {
			continue
		}
		sub, err := s.store.GetWebhookSubscription(r.Context(), d.SubscriptionID)
		if err != nil {
			s.logger.Warn("agent delivery references missing subscription", zap.String("delivery_id", d.ID), zap.Error(err))
			continue
		}
		url, err := s.webhookCipher.Open(sub.URLCiphertext, sub.URLNonce)
		if err != nil {
			s.logger.Warn("decrypt webhook URL failed", zap.String("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		authHeader, err := s.webhookCipher.Open(sub.AuthCiphertext, sub.AuthNonce)
		if err != nil {
			s.logger.Warn("decrypt webhook auth header failed", zap.String("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		if err := s.store.MarkDeliveryInFlight(r.Context(), d.ID); err != nil {
			continue
		}
		out = append(out, webhookDeliveryResponse{
			ID: d.ID, SubscriptionID: d.SubscriptionID, Event: d.Event,
			URL: url, Secret: sub.Secret, AuthHeader: authHeader, TimeoutSeconds: sub.TimeoutSeconds,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// labelsOverlap reports whether target and agent share at least one
// (key, value) pair, the selection rule for agent-relayed webhook
// deliveries (spec.md §4.5). An empty target set overlaps every agent.
func labelsOverlap(target, agent store.Labels) bool {
	if len(target) == 0 {
		return true
	}
	for key, wantValues := range target {
		have := agent[key]
		for _, want := range wantValues {
			for _, h := range have {
				if h == want {
					return true
				}
			}
		}
	}
	return false
}

type completeWebhookDeliveryRequest struct {
	AgentID    string `json:"agent_id"`
	StatusCode int    `json:"status_code"`
	Response   string `json:"response"`
}

// handleCompleteWebhookDelivery records an agent-relayed delivery's
// outcome, applying the same success/retryable/terminal classification the
// broker's own Worker uses for broker-delivered webhooks.
func (s *Server) handleCompleteWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req completeWebhookDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if !authpak.RequireAgentOrAdmin(r.Context(), req.AgentID) {
		forbidden(w)
		return
	}
	outcome := webhook.Classify(req.StatusCode)
	// req.Response is the destination's raw HTTP response body, relayed
	// back from inside the agent's cluster — scrub it before it lands in
	// durable, admin-queryable delivery state.
	response := security.Sanitize(req.Response)
	var err error
	switch outcome {
	case webhook.OutcomeSuccess:
		err = s.store.CompleteDeliverySuccess(r.Context(), id, req.StatusCode, response)
	case webhook.OutcomeRetryable:
		// The agent-facing completion report carries no attempt count, so
		// retries here use the policy's initial backoff rather than the
		// escalating schedule the broker's own delivery Worker applies.
		next := time.Now().Add(workorder.DefaultPolicy().InitialBackoff)
		err = s.store.CompleteDeliveryRetryable(r.Context(), id, req.StatusCode, response, next)
	default:
		err = s.store.CompleteDeliveryTerminal(r.Context(), id, req.StatusCode, response)
	}
	if err != nil {
		s.writeStoreError(w, "CompleteWebhookDelivery", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
