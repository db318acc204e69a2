package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/brokkr-io/brokkr/internal/config"
	"github.com/brokkr-io/brokkr/internal/store"
	"github.com/brokkr-io/brokkr/internal/webhook"
	"github.com/brokkr-io/brokkr/pkg/clusterapplier"
)

// readyRetries/readyRetryInterval bound how long the reconciler waits for
// the broker to answer /readyz before giving up a tick entirely, per
// spec.md §4.6 step 1.
const (
	readyRetries       = 5
	readyRetryInterval = 2 * time.Second
)

// relayResponseLimit bounds how much of a relayed destination's response
// body the agent reads back, mirroring internal/webhook.Worker's own
// truncateResponse ceiling.
const relayResponseLimit = 64 * 1024

// Reconciler runs Brokkr's agent-side loop: one cooperative tick per
// poll_interval, each performing the full readiness-auth-heartbeat-apply-
// workorder-diagnostic-webhook sequence spec.md §4.6 describes. It is
// deliberately a single goroutine plus a background HTTP server for
// /healthz and /metrics (wired in cmd/agent), matching spec.md §5's "agents
// run essentially one logical loop."
type Reconciler struct {
	client      *Client
	applier     *clusterapplier.Applier
	kube        kubernetes.Interface
	cfg         config.Agent
	logger      *zap.Logger
	relayClient *http.Client

	agentID string
	// appliedKinds remembers, per stack, which resource kinds this process
	// has applied since it started — the only record a deletion marker's
	// cleanup pass has to work from, since the marker itself carries no
	// manifest (spec.md §4.3).
	appliedKinds map[string]map[schema.GroupVersionKind]struct{}
}

// New builds a Reconciler from agent configuration. An empty
// cfg.Kubeconfig falls back to in-cluster config, matching how an
// agent is expected to run as a workload inside the cluster it manages.
func New(cfg config.Agent, logger *zap.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	restCfg, err := loadRESTConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("agent: load kubeconfig: %w", err)
	}
	applier, err := clusterapplier.New(restCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("agent: build cluster applier: %w", err)
	}
	kube, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("agent: build kubernetes clientset: %w", err)
	}

	return &Reconciler{
		client:       NewClient(cfg.BrokerURL, cfg.PAK, 30*time.Second),
		applier:      applier,
		kube:         kube,
		cfg:          cfg,
		logger:       logger,
		relayClient:  &http.Client{Timeout: 30 * time.Second},
		appliedKinds: map[string]map[schema.GroupVersionKind]struct{}{},
	}, nil
}

func loadRESTConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		return rest.InClusterConfig()
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
}

// Run blocks, executing one tick immediately and then one per
// cfg.PollInterval, until ctx is cancelled (SIGINT/SIGTERM via cmd/agent).
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("agent shutting down")
			return nil
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// tick runs spec.md §4.6's eight-step sequence once. Failures at any step
// (other than readiness and auth, which abort the whole tick) are logged
// and do not prevent later steps from running.
func (r *Reconciler) tick(ctx context.Context) {
	if err := r.waitReady(ctx); err != nil {
		r.logger.Warn("broker not ready, skipping tick", zap.Error(err))
		return
	}

	identity, err := r.client.Authenticate(ctx)
	if err != nil {
		r.logger.Error("pak authentication failed", zap.Error(err))
		return
	}
	if identity.AgentID == "" {
		r.logger.Error("pak did not resolve to an agent identity")
		return
	}
	r.agentID = identity.AgentID

	if err := r.client.Heartbeat(ctx, r.agentID); err != nil {
		r.logger.Warn("heartbeat failed", zap.Error(err))
	}

	r.reconcileDeploymentObjects(ctx)
	r.reconcileWorkOrders(ctx)
	r.reconcileDiagnostics(ctx)
	r.reconcileWebhooks(ctx)
}

// waitReady polls /readyz with bounded retries, per spec.md §4.6 step 1.
func (r *Reconciler) waitReady(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < readyRetries; attempt++ {
		if err := r.client.Ready(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyRetryInterval):
		}
	}
	return fmt.Errorf("broker not ready after %d attempts: %w", readyRetries, lastErr)
}

// reconcileDeploymentObjects fetches and applies this agent's applicable
// deployment objects in order, per spec.md §4.6 step 5.
func (r *Reconciler) reconcileDeploymentObjects(ctx context.Context) {
	objs, err := r.client.ApplicableDeploymentObjects(ctx, r.agentID)
	if err != nil {
		r.logger.Warn("fetch applicable deployment objects failed", zap.Error(err))
		return
	}
	for _, obj := range objs {
		r.applyOne(ctx, obj)
	}
}

func (r *Reconciler) applyOne(ctx context.Context, obj DeploymentObject) {
	log := r.logger.With(zap.String("deployment_object_id", obj.ID), zap.String("stack_id", obj.StackID))

	if obj.IsDeletionMarker {
		kinds := r.kindsSeenFor(obj.StackID)
		n, err := r.applier.DeleteByStackLabel(ctx, kinds, obj.StackID)
		if err != nil {
			log.Warn("deletion marker cleanup failed", zap.Error(err))
			if ackErr := r.client.AckDeploymentObject(ctx, obj.ID, r.agentID, false); ackErr != nil {
				log.Warn("ack deletion marker failed", zap.Error(ackErr))
			}
			return
		}
		log.Info("deletion marker applied", zap.Int("objects_deleted", n))
		if err := r.client.AckDeploymentObject(ctx, obj.ID, r.agentID, true); err != nil {
			log.Warn("ack deletion marker failed", zap.Error(err))
		}
		return
	}

	result := r.applier.Apply(ctx, obj.StackID, obj.ID, obj.YAMLChecksum, obj.YAMLContent)
	r.rememberKinds(obj.StackID, obj.YAMLContent)

	status := store.HealthHealthy
	if !result.Succeeded {
		status = store.HealthFailing
	}
	if err := r.client.ReportDeploymentHealth(ctx, r.agentID, obj.ID, status, result.Message); err != nil {
		log.Warn("report deployment health failed", zap.Error(err))
	}
	if err := r.client.AckDeploymentObject(ctx, obj.ID, r.agentID, result.Succeeded); err != nil {
		log.Warn("ack deployment object failed", zap.Error(err))
	}
	if result.Succeeded {
		log.Info("deployment object applied", zap.String("message", result.Message))
	} else {
		log.Warn("deployment object apply failed", zap.String("message", result.Message))
	}
}

// rememberKinds records the resource kinds parsed out of yamlContent under
// stackID, so a later deletion marker for the same stack knows what kinds
// to search for.
func (r *Reconciler) rememberKinds(stackID, yamlContent string) {
	docs, err := clusterapplier.SplitDocuments(yamlContent)
	if err != nil {
		return
	}
	set, ok := r.appliedKinds[stackID]
	if !ok {
		set = map[schema.GroupVersionKind]struct{}{}
		r.appliedKinds[stackID] = set
	}
	for _, doc := range docs {
		set[doc.GroupVersionKind()] = struct{}{}
	}
}

func (r *Reconciler) kindsSeenFor(stackID string) []schema.GroupVersionKind {
	set := r.appliedKinds[stackID]
	out := make([]schema.GroupVersionKind, 0, len(set))
	for gvk := range set {
		out = append(out, gvk)
	}
	return out
}

// reconcileWorkOrders claims and dispatches at most one work order per
// tick, per spec.md §4.6 step 6.
func (r *Reconciler) reconcileWorkOrders(ctx context.Context) {
	pending, err := r.client.PendingWorkOrders(ctx, r.agentID)
	if err != nil {
		r.logger.Warn("fetch pending work orders failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	var claimed *WorkOrder
	for i := range pending {
		wo, err := r.client.ClaimWorkOrder(ctx, pending[i].ID, r.agentID)
		if err != nil {
			continue // likely claimed by another agent first; try the next candidate
		}
		claimed = &wo
		break
	}
	if claimed == nil {
		return
	}

	log := r.logger.With(zap.String("work_order_id", claimed.ID), zap.String("work_type", claimed.WorkType))
	success, retryable, message := r.dispatchWorkOrder(ctx, *claimed)
	if err := r.client.CompleteWorkOrder(ctx, claimed.ID, r.agentID, success, retryable, message); err != nil {
		log.Warn("report work order completion failed", zap.Error(err))
		return
	}
	if success {
		log.Info("work order completed", zap.String("message", message))
	} else {
		log.Warn("work order failed", zap.Bool("retryable", retryable), zap.String("message", message))
	}
}

// dispatchWorkOrder routes a claimed work order to its work_type handler.
func (r *Reconciler) dispatchWorkOrder(ctx context.Context, wo WorkOrder) (success, retryable bool, message string) {
	switch wo.WorkType {
	case workTypeBuild:
		return r.handleBuild(ctx, wo)
	default:
		return false, false, fmt.Sprintf("unknown work_type %q", wo.WorkType)
	}
}

// reconcileDiagnostics drains pending diagnostic requests for this agent,
// per spec.md §4.6 step 7.
func (r *Reconciler) reconcileDiagnostics(ctx context.Context) {
	pending, err := r.client.PendingDiagnostics(ctx, r.agentID)
	if err != nil {
		r.logger.Warn("fetch pending diagnostics failed", zap.Error(err))
		return
	}
	for _, req := range pending {
		r.runDiagnostic(ctx, req)
	}
}

// reconcileWebhooks drains agent-routed webhook deliveries, per spec.md
// §4.6 step 8 / §4.5's agent-relayed mode.
func (r *Reconciler) reconcileWebhooks(ctx context.Context) {
	pending, err := r.client.PendingWebhookDeliveries(ctx, r.agentID)
	if err != nil {
		r.logger.Warn("fetch pending webhook deliveries failed", zap.Error(err))
		return
	}
	for _, d := range pending {
		r.relayWebhook(ctx, d)
	}
}

// relayWebhook performs the actual outbound POST for an agent-relayed
// delivery — the destination is reachable only from inside this agent's
// own cluster network, which is exactly why spec.md §4.5 routes it here
// instead of delivering it from the broker's own webhook.Worker. The
// broker decrypts the subscription's URL and auth header just for this
// matching agent before handing them over (see
// internal/httpapi's handlePendingWebhookDeliveries).
func (r *Reconciler) relayWebhook(ctx context.Context, d WebhookDelivery) {
	log := r.logger.With(zap.String("delivery_id", d.ID))
	if d.URL == "" {
		log.Warn("webhook delivery has no destination url, dropping")
		return
	}
	statusCode, response, reqErr := r.postRelay(ctx, d)
	if reqErr != nil {
		response = reqErr.Error()
	}
	if err := r.client.CompleteWebhookDelivery(ctx, d.ID, r.agentID, statusCode, response); err != nil {
		log.Warn("report webhook delivery outcome failed", zap.Error(err))
	}
}

// postRelay POSTs d.Event to d.URL, signing the body and setting the
// decrypted auth header exactly as internal/webhook.Worker's own post
// does for broker-delivered subscriptions. statusCode is 0 on a
// network-level failure (dial, timeout), which internal/webhook.Classify
// treats as retryable.
func (r *Reconciler) postRelay(ctx context.Context, d WebhookDelivery) (statusCode int, body string, err error) {
	timeout := time.Duration(d.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.URL, bytes.NewReader(d.Event))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Signature", webhook.Sign(d.Secret, d.Event))
	if d.AuthHeader != "" {
		req.Header.Set("Authorization", d.AuthHeader)
	}

	resp, err := r.relayClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, relayResponseLimit))
	return resp.StatusCode, string(data), nil
}
