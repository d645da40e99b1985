package engine

import (
	"fmt"

	"github.com/recmig/recmig/pkg/models"
)

// Queue priorities: lower values dequeue first. A mapping's priority
// spreads its batches across two tiers so every mapping's creates land
// before its updates, and earlier mappings land entirely before later ones.
const (
	basePriority   = 1
	createPhase    = 0
	updatePhase    = 1
	phasesPerLevel = 2
)

// BatchPriority computes a queue priority for one phase of a mapping.
// The value saturates at 255 for very deep mapping chains.
func BatchPriority(mappingPriority, phase int) uint8 {
	p := basePriority + mappingPriority*phasesPerLevel + phase
	if p > 255 {
		p = 255
	}
	return uint8(p)
}

// BuildQueueItems chunks filtered operations into queue items of at most
// batchSize operations. Creates go into an earlier priority tier than
// updates, deletes and deactivates; within a tier, payload order follows
// operation order. Skip and Error operations travel with the create tier
// so the run record stays complete.
func BuildQueueItems(queueName, configName, mappingName string, mappingPriority, batchSize int, ops []models.Operation) []models.QueueItem {
	if batchSize <= 0 {
		batchSize = 50
	}

	var creates, updates []models.Operation
	for _, op := range ops {
		switch op.Kind {
		case models.OpUpdate, models.OpDelete, models.OpDeactivate:
			updates = append(updates, op)
		default:
			creates = append(creates, op)
		}
	}

	var items []models.QueueItem
	items = append(items, chunk(queueName, configName, mappingName,
		BatchPriority(mappingPriority, createPhase), batchSize, creates, "create")...)
	items = append(items, chunk(queueName, configName, mappingName,
		BatchPriority(mappingPriority, updatePhase), batchSize, updates, "update")...)
	return items
}

func chunk(queueName, configName, mappingName string, priority uint8, batchSize int, ops []models.Operation, phase string) []models.QueueItem {
	var items []models.QueueItem
	for start := 0; start < len(ops); start += batchSize {
		end := start + batchSize
		if end > len(ops) {
			end = len(ops)
		}
		items = append(items, models.QueueItem{
			QueueName:   queueName,
			Priority:    priority,
			Payload:     ops[start:end],
			Status:      models.StatusPending,
			ConfigName:  configName,
			MappingName: mappingName,
			Description: fmt.Sprintf("%s %s batch %d-%d", mappingName, phase, start, end-1),
		})
	}
	return items
}
