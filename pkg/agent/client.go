// Package agent implements the Brokkr agent's reconciler loop: a single
// cooperative poll-apply-report cycle against the broker's /api/v1 HTTP
// surface, per spec.md §4.6. It is grounded on the teacher's
// internal/probe/agent/agent.go (an Agent struct owning a connection, a
// background Run loop, and per-message dispatch) generalized from that
// teacher's WebSocket push model to Brokkr's HTTP poll model — the broker
// never pushes to an agent; the agent always initiates.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin HTTP client for the broker's agent-facing routes. It
// carries no retry/backoff logic of its own beyond the readiness poll in
// Reconciler.waitReady — a failed call within a tick is handled by the
// reconciler and simply retried on the next tick (spec.md §4.6).
type Client struct {
	baseURL string
	pak     string
	http    *http.Client
}

// NewClient builds a Client against baseURL, authenticating every request
// with pak.
func NewClient(baseURL, pak string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, pak: pak, http: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("agent: marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.pak)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return resp, fmt.Errorf("agent: %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("agent: %s %s: decode response: %w", method, path, err)
		}
	}
	return resp, nil
}

// Ready polls GET /readyz, returning nil only on a 2xx response.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/readyz", nil, nil)
	return err
}

// Identity is the resolved identity of the agent's own PAK, per spec.md
// §6's POST /auth/pak.
type Identity struct {
	Admin       bool   `json:"admin"`
	AgentID     string `json:"agent,omitempty"`
	GeneratorID string `json:"generator,omitempty"`
}

// Authenticate resolves the configured PAK to its agent id.
func (c *Client) Authenticate(ctx context.Context) (Identity, error) {
	var out Identity
	_, err := c.do(ctx, http.MethodPost, "/api/v1/auth/pak", map[string]string{"token": c.pak}, &out)
	return out, err
}

// Heartbeat reports liveness for agentID.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/heartbeat", agentID), nil, nil)
	return err
}

// DeploymentObject mirrors internal/httpapi's deploymentObjectResponse.
type DeploymentObject struct {
	ID               string `json:"id"`
	StackID          string `json:"stack_id"`
	SequenceID       int64  `json:"sequence_id"`
	YAMLContent      string `json:"yaml_content"`
	YAMLChecksum     string `json:"yaml_checksum"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
	SubmittedAt      string `json:"submitted_at"`
}

// ApplicableDeploymentObjects fetches the deployment objects agentID should
// apply, ascending by sequence id within each stack (spec.md §4.3).
func (c *Client) ApplicableDeploymentObjects(ctx context.Context, agentID string) ([]DeploymentObject, error) {
	var out []DeploymentObject
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%s/applicable-deployment-objects", agentID), nil, &out)
	return out, err
}

// AckDeploymentObject reports an apply outcome for a deployment object.
func (c *Client) AckDeploymentObject(ctx context.Context, deploymentObjectID, agentID string, succeeded bool) error {
	path := fmt.Sprintf("/api/v1/deployment-objects/%s/ack/%s", deploymentObjectID, agentID)
	_, err := c.do(ctx, http.MethodPost, path, map[string]bool{"succeeded": succeeded}, nil)
	return err
}

// ReportDeploymentHealth upserts the agent's health observation for one
// deployment object on one of its own stacks.
func (c *Client) ReportDeploymentHealth(ctx context.Context, agentID, deploymentObjectID, status, summary string) error {
	path := fmt.Sprintf("/api/v1/agents/%s/deployment-objects/%s/health", agentID, deploymentObjectID)
	_, err := c.do(ctx, http.MethodPost, path, map[string]string{"status": status, "summary": summary}, nil)
	return err
}

// WorkOrder mirrors internal/httpapi's workOrderResponse, trimmed to the
// fields the agent acts on.
type WorkOrder struct {
	ID          string `json:"id"`
	WorkType    string `json:"work_type"`
	YAMLContent string `json:"yaml_content"`
	Status      string `json:"status"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}

// PendingWorkOrders lists work orders agentID is currently eligible to claim.
func (c *Client) PendingWorkOrders(ctx context.Context, agentID string) ([]WorkOrder, error) {
	var out []WorkOrder
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%s/work-orders/pending", agentID), nil, &out)
	return out, err
}

// ClaimWorkOrder attempts the atomic PENDING -> CLAIMED transition. A 409
// (another agent claimed it first) surfaces as a non-nil error; the caller
// should treat that as "move on to the next candidate", not a fatal tick.
func (c *Client) ClaimWorkOrder(ctx context.Context, id, agentID string) (WorkOrder, error) {
	var out WorkOrder
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/work-orders/%s/claim", id), map[string]string{"agent_id": agentID}, &out)
	return out, err
}

// CompleteWorkOrder reports a claimed work order's outcome.
func (c *Client) CompleteWorkOrder(ctx context.Context, id, agentID string, success, retryable bool, message string) error {
	body := map[string]any{"agent_id": agentID, "success": success, "retryable": retryable, "message": message}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/work-orders/%s/complete", id), body, nil)
	return err
}

// DiagnosticRequest mirrors internal/httpapi's diagnosticRequestResponse.
type DiagnosticRequest struct {
	ID                 string `json:"id"`
	AgentID            string `json:"agent_id"`
	DeploymentObjectID string `json:"deployment_object_id"`
	Status             string `json:"status"`
}

// PendingDiagnostics lists diagnostic requests awaiting this agent.
func (c *Client) PendingDiagnostics(ctx context.Context, agentID string) ([]DiagnosticRequest, error) {
	var out []DiagnosticRequest
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%s/diagnostic-requests/pending", agentID), nil, &out)
	return out, err
}

// ClaimDiagnostic claims a pending diagnostic request so no other poller
// (in a multi-replica agent deployment) duplicates the work.
func (c *Client) ClaimDiagnostic(ctx context.Context, id, agentID string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/diagnostic-requests/%s/claim?agent_id=%s", id, agentID), nil, nil)
	return err
}

// CompleteDiagnostic reports a diagnostic request's collected evidence.
func (c *Client) CompleteDiagnostic(ctx context.Context, id, agentID string, success bool, podStatuses, events json.RawMessage, logTail string) error {
	body := map[string]any{
		"agent_id":     agentID,
		"success":      success,
		"pod_statuses": podStatuses,
		"events":       events,
		"log_tail":     logTail,
	}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/diagnostic-requests/%s/complete", id), body, nil)
	return err
}

// WebhookDelivery mirrors internal/httpapi's webhookDeliveryResponse. URL,
// Secret, and AuthHeader are the subscription's decrypted destination and
// credentials, handed to this agent specifically because it matched the
// subscription's target_labels — the agent performs the actual HTTP call.
type WebhookDelivery struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Event          json.RawMessage `json:"event"`
	URL            string          `json:"url"`
	Secret         string          `json:"secret"`
	AuthHeader     string          `json:"auth_header,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`
}

// PendingWebhookDeliveries lists deliveries relayed through this agent
// (spec.md §4.5's agent-relayed mode — subscriptions whose target_labels
// overlap the agent's own labels).
func (c *Client) PendingWebhookDeliveries(ctx context.Context, agentID string) ([]WebhookDelivery, error) {
	var out []WebhookDelivery
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%s/webhook-deliveries/pending", agentID), nil, &out)
	return out, err
}

// CompleteWebhookDelivery reports a relayed delivery's outcome.
func (c *Client) CompleteWebhookDelivery(ctx context.Context, id, agentID string, statusCode int, response string) error {
	body := map[string]any{"agent_id": agentID, "status_code": statusCode, "response": response}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/webhook-deliveries/%s/complete", id), body, nil)
	return err
}
