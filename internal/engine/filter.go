package engine

import "github.com/recmig/recmig/pkg/models"

// FilterOperations applies a mapping's operation permissions. Record
// operations of a disabled kind become Skips so the run output still
// accounts for every record. Orphan operations of a disabled kind are
// dropped outright: they correspond to no source record, so nothing is
// owed an accounting entry. Skip and Error operations pass through.
func FilterOperations(result *TransformResult, perms models.OperationPermissions) []models.Operation {
	out := make([]models.Operation, 0, len(result.Operations)+len(result.Orphans))
	for _, op := range result.Operations {
		if reason, blocked := blockedReason(op.Kind, perms); blocked {
			out = append(out, models.NewSkip(op.Entity, op.ID, reason))
			continue
		}
		out = append(out, op)
	}
	for _, op := range result.Orphans {
		if _, blocked := blockedReason(op.Kind, perms); blocked {
			continue
		}
		out = append(out, op)
	}
	return out
}

func blockedReason(kind models.OpKind, perms models.OperationPermissions) (string, bool) {
	switch kind {
	case models.OpCreate:
		if !perms.AllowCreate {
			return "creates disabled", true
		}
	case models.OpUpdate:
		if !perms.AllowUpdate {
			return "updates disabled", true
		}
	case models.OpDelete:
		if !perms.AllowDelete {
			return "deletes disabled", true
		}
	case models.OpDeactivate:
		if !perms.AllowDeactivate {
			return "deactivates disabled", true
		}
	}
	return "", false
}
