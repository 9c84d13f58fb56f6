package syncbox

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Reconciler computes a three-way merge between the entity snapshot the
// edit was based on, the client's optimistic write, and the server's
// current state. Resolution policy beyond the split into auto-mergeable and
// conflicting fields belongs to the UI collaborator, not the engine.
type Reconciler interface {
	Reconcile(base, optimistic, server map[string]any) ReconcileResult
}

type ReconcileResult struct {
	AutoMerged map[string]any
	Conflicts  []FieldConflict
}

// FieldReconciler is the default policy: a field changed on both sides with
// different values is a true conflict; a field changed on one side only is
// auto-mergeable. Without a base snapshot every differing field is treated
// as a conflict.
type FieldReconciler struct{}

func (FieldReconciler) Reconcile(base, optimistic, server map[string]any) ReconcileResult {
	result := ReconcileResult{AutoMerged: map[string]any{}}
	for _, field := range unionFields(base, optimistic, server) {
		baseValue, hasBase := lookupField(base, field)
		localValue, hasLocal := lookupField(optimistic, field)
		remoteValue, hasRemote := lookupField(server, field)

		if base == nil {
			if equalJSONValue(localValue, remoteValue) && hasLocal == hasRemote {
				result.AutoMerged[field] = remoteValue
				continue
			}
			result.Conflicts = append(result.Conflicts, FieldConflict{
				Field:  field,
				Local:  localValue,
				Remote: remoteValue,
			})
			continue
		}

		localChanged := hasLocal != hasBase || !equalJSONValue(baseValue, localValue)
		remoteChanged := hasRemote != hasBase || !equalJSONValue(baseValue, remoteValue)
		switch {
		case localChanged && remoteChanged:
			if equalJSONValue(localValue, remoteValue) {
				result.AutoMerged[field] = localValue
				continue
			}
			result.Conflicts = append(result.Conflicts, FieldConflict{
				Field:  field,
				Base:   baseValue,
				Local:  localValue,
				Remote: remoteValue,
			})
		case localChanged:
			result.AutoMerged[field] = localValue
		case remoteChanged:
			result.AutoMerged[field] = remoteValue
		default:
			result.AutoMerged[field] = baseValue
		}
	}
	return result
}

func unionFields(sets ...map[string]any) []string {
	seen := map[string]struct{}{}
	for _, set := range sets {
		for field := range set {
			seen[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func lookupField(set map[string]any, field string) (any, bool) {
	if set == nil {
		return nil, false
	}
	value, ok := set[field]
	return value, ok
}

// equalJSONValue compares two decoded JSON values structurally via their
// canonical encoding; map key order does not affect the comparison.
func equalJSONValue(a, b any) bool {
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(left, right)
}
