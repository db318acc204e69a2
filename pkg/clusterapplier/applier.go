package clusterapplier

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// fieldOwner identifies Brokkr's managed fields under server-side apply,
// so re-applying the same object doesn't fight other field managers.
const fieldOwner = "brokkr-agent"

// Applier applies deployment-object manifests to one target cluster.
type Applier struct {
	client client.Client
	logger *zap.Logger
}

// New builds an Applier against restCfg, the kubeconfig-derived REST config
// the agent was started with (spec.md §4.6 — one agent, one cluster).
func New(restCfg *rest.Config, logger *zap.Logger) (*Applier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := client.New(restCfg, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("clusterapplier: build client: %w", err)
	}
	return &Applier{client: c, logger: logger}, nil
}

// Client exposes the underlying controller-runtime client for callers that
// need to watch or fetch objects outside the Apply/DeleteByStackLabel
// surface (e.g. pkg/agent's BuildRun watch for the "build" work order).
func (a *Applier) Client() client.Client { return a.client }

// Result reports the outcome of applying one deployment object's manifest.
type Result struct {
	Succeeded bool
	Message   string
}

// Apply renders yamlContent's documents, injects Brokkr provenance, reorders
// Namespace/CRD documents first, dry-runs the whole batch, and — only if
// every document survives the dry run — applies it for real. A dry-run
// failure on any document aborts the batch with no mutation at all
// (spec.md §4.6 step 5's "apply all documents, or none").
func (a *Applier) Apply(ctx context.Context, stackID, deploymentObjectID, yamlChecksum, yamlContent string) Result {
	docs, err := SplitDocuments(yamlContent)
	if err != nil {
		return Result{Succeeded: false, Message: err.Error()}
	}
	if len(docs) == 0 {
		return Result{Succeeded: true, Message: "no documents to apply"}
	}
	docs = ReorderFirstClassFirst(docs)

	for _, doc := range docs {
		if err := InjectProvenance(doc, stackID, deploymentObjectID, yamlChecksum); err != nil {
			return Result{Succeeded: false, Message: fmt.Sprintf("inject provenance on %s/%s: %v", doc.GetKind(), doc.GetName(), err)}
		}
	}

	for _, doc := range docs {
		dryRun := doc.DeepCopy()
		if err := a.client.Patch(ctx, dryRun, client.Apply, client.FieldOwner(fieldOwner), client.ForceOwnership, client.DryRunAll); err != nil {
			return Result{Succeeded: false, Message: fmt.Sprintf("dry-run apply %s/%s: %v", doc.GetKind(), doc.GetName(), err)}
		}
	}

	for _, doc := range docs {
		if err := a.client.Patch(ctx, doc, client.Apply, client.FieldOwner(fieldOwner), client.ForceOwnership); err != nil {
			return Result{
				Succeeded: false,
				Message:   fmt.Sprintf("apply %s/%s: %v (dry-run succeeded; cluster state may now differ from prior revision for documents applied before this one)", doc.GetKind(), doc.GetName(), err),
			}
		}
	}

	a.logger.Info("applied deployment object",
		zap.String("stack_id", stackID),
		zap.String("deployment_object_id", deploymentObjectID),
		zap.Int("documents", len(docs)))
	return Result{Succeeded: true, Message: fmt.Sprintf("applied %d document(s)", len(docs))}
}

// DeleteByStackLabel lists and deletes every live object of the given kinds
// carrying the stack's well-known label, for deletion-marker deployment
// objects (spec.md §4.6 step 5's else-branch).
func (a *Applier) DeleteByStackLabel(ctx context.Context, gvks []schema.GroupVersionKind, stackID string) (int, error) {
	selector := client.MatchingLabels{StackLabelKey: stackID}
	deleted := 0
	for _, gvk := range gvks {
		list := &unstructured.UnstructuredList{}
		list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))
		if err := a.client.List(ctx, list, selector); err != nil {
			return deleted, fmt.Errorf("clusterapplier: list %s for stack %s: %w", gvk.Kind, stackID, err)
		}
		for i := range list.Items {
			obj := &list.Items[i]
			if err := a.client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
				return deleted, fmt.Errorf("clusterapplier: delete %s/%s: %w", obj.GetKind(), obj.GetName(), err)
			}
			deleted++
		}
	}
	return deleted, nil
}
