// Package targeting implements the pure matching logic of spec.md §4.3: it
// decides which agents a stack or work order reaches, given explicit
// assignments and label/annotation selectors. It holds no state and talks
// to no store — callers fetch the candidate rows and pass them in.
package targeting

import "github.com/brokkr-io/brokkr/internal/store"

// Matches reports whether an agent carrying labels/annotations satisfies
// sel. A nil or empty selector matches nothing on its own — callers combine
// it with explicit targets via set union (spec.md §4.3).
func Matches(sel *store.Selector, labels store.Labels, ann store.Annotations) bool {
	if sel.Empty() {
		return false
	}
	for _, pred := range sel.LabelIn {
		if !labelHasAny(labels, pred.Key, pred.Values) {
			return false
		}
	}
	for _, pred := range sel.AnnotationEquals {
		if ann[pred.Key] != pred.Value {
			return false
		}
	}
	return true
}

func labelHasAny(labels store.Labels, key string, values []string) bool {
	have := labels[key]
	if len(have) == 0 {
		return false
	}
	for _, v := range values {
		for _, h := range have {
			if h == v {
				return true
			}
		}
	}
	return false
}

// Agent describes the minimal identity/label state needed to evaluate a
// selector against one candidate agent.
type Agent struct {
	ID          string
	Labels      store.Labels
	Annotations store.Annotations
}

// StackTargets computes the set union of explicitAgentIDs and every
// candidate agent that matches sel, per spec.md §4.3's "union" rule and the
// "appears once" edge case.
func StackTargets(explicitAgentIDs []string, sel *store.Selector, candidates []Agent) []string {
	seen := make(map[string]bool, len(explicitAgentIDs)+len(candidates))
	out := make([]string, 0, len(explicitAgentIDs)+len(candidates))
	for _, id := range explicitAgentIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if sel.Empty() {
		return out
	}
	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		if Matches(sel, c.Labels, c.Annotations) {
			seen[c.ID] = true
			out = append(out, c.ID)
		}
	}
	return out
}

// AgentReachesStack reports whether agentID reaches a stack given its
// explicit targets and the stack's selector evaluated against the agent's
// own labels/annotations — the inverse direction of StackTargets, used by
// the applicable-deployment-objects query and by authorization checks
// (spec.md §4.2's "agent reachable from its stack via the targeting
// resolver").
func AgentReachesStack(agentID string, explicitStackIDs []string, stackID string, sel *store.Selector, agentLabels store.Labels, agentAnn store.Annotations) bool {
	for _, id := range explicitStackIDs {
		if id == stackID {
			return true
		}
	}
	return Matches(sel, agentLabels, agentAnn)
}

// WorkOrderEligible reports whether agentID is eligible to claim wo, per
// spec.md §4.4 rule 2's reachability clause (status/timing are checked by
// the caller against store.WorkOrder fields directly).
func WorkOrderEligible(agentID string, wo *store.WorkOrder, agentLabels store.Labels, agentAnn store.Annotations) bool {
	for _, id := range wo.ExplicitAgents {
		if id == agentID {
			return true
		}
	}
	return Matches(wo.Selector, agentLabels, agentAnn)
}
