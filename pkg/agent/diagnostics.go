package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// diagnosticLogTailLines bounds how much of a pod's log the agent ships
// back with a diagnostic result (spec.md §4.6 step 7 — "bounded log tail").
const diagnosticLogTailLines = 200

// runDiagnostic claims req, collects the deployment object's pod statuses,
// recent namespace events, and a bounded log tail from its pods, and
// reports the result.
func (r *Reconciler) runDiagnostic(ctx context.Context, req DiagnosticRequest) {
	log := r.logger.With(zap.String("diagnostic_request_id", req.ID))

	if err := r.client.ClaimDiagnostic(ctx, req.ID, r.agentID); err != nil {
		log.Warn("claim diagnostic request failed", zap.Error(err))
		return
	}

	podStatuses, events, logTail, err := r.collectDiagnostic(ctx, req.DeploymentObjectID)
	if err != nil {
		log.Warn("collect diagnostic evidence failed", zap.Error(err))
		if completeErr := r.client.CompleteDiagnostic(ctx, req.ID, r.agentID, false, nil, nil, err.Error()); completeErr != nil {
			log.Warn("report failed diagnostic failed", zap.Error(completeErr))
		}
		return
	}
	if err := r.client.CompleteDiagnostic(ctx, req.ID, r.agentID, true, podStatuses, events, logTail); err != nil {
		log.Warn("report diagnostic result failed", zap.Error(err))
	}
}

// collectDiagnostic gathers evidence for every pod Brokkr has labeled with
// deploymentObjectID (the same provenance label clusterapplier.InjectProvenance
// stamps on apply).
func (r *Reconciler) collectDiagnostic(ctx context.Context, deploymentObjectID string) (podStatuses, events json.RawMessage, logTail string, err error) {
	selector := fmt.Sprintf("brokkr.io/deployment-object-id=%s", deploymentObjectID)

	pods, err := r.kube.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, nil, "", fmt.Errorf("list pods: %w", err)
	}
	podStatuses, err = json.Marshal(summarizePods(pods.Items))
	if err != nil {
		return nil, nil, "", fmt.Errorf("marshal pod statuses: %w", err)
	}

	var evList []corev1.Event
	namespaces := distinctNamespaces(pods.Items)
	for _, ns := range namespaces {
		nsEvents, evErr := r.kube.CoreV1().Events(ns).List(ctx, metav1.ListOptions{})
		if evErr != nil {
			continue
		}
		evList = append(evList, nsEvents.Items...)
	}
	events, err = json.Marshal(summarizeEvents(evList))
	if err != nil {
		return nil, nil, "", fmt.Errorf("marshal events: %w", err)
	}

	logTail = r.tailLogs(ctx, pods.Items)
	return podStatuses, events, logTail, nil
}

type podStatusSummary struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Phase     string `json:"phase"`
	Ready     bool   `json:"ready"`
	Restarts  int32  `json:"restarts"`
}

func summarizePods(pods []corev1.Pod) []podStatusSummary {
	out := make([]podStatusSummary, 0, len(pods))
	for _, p := range pods {
		ready := false
		var restarts int32
		for _, cs := range p.Status.ContainerStatuses {
			if cs.Ready {
				ready = true
			}
			restarts += cs.RestartCount
		}
		out = append(out, podStatusSummary{
			Namespace: p.Namespace, Name: p.Name, Phase: string(p.Status.Phase),
			Ready: ready, Restarts: restarts,
		})
	}
	return out
}

type eventSummary struct {
	Namespace string `json:"namespace"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Count     int32  `json:"count"`
}

func summarizeEvents(evs []corev1.Event) []eventSummary {
	out := make([]eventSummary, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventSummary{
			Namespace: e.Namespace, Reason: e.Reason, Message: e.Message, Count: e.Count,
		})
	}
	return out
}

func distinctNamespaces(pods []corev1.Pod) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range pods {
		if _, ok := seen[p.Namespace]; !ok {
			seen[p.Namespace] = struct{}{}
			out = append(out, p.Namespace)
		}
	}
	return out
}

// tailLogs reads up to diagnosticLogTailLines from the first container of
// the first pod in pods, best-effort.
func (r *Reconciler) tailLogs(ctx context.Context, pods []corev1.Pod) string {
	if len(pods) == 0 {
		return ""
	}
	pod := pods[0]
	tail := int64(diagnosticLogTailLines)
	stream, err := r.kube.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{TailLines: &tail}).Stream(ctx)
	if err != nil {
		return ""
	}
	defer stream.Close()

	var lines []string
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines, "\n")
}
