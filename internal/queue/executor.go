package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/pkg/logger"
	"github.com/recmig/recmig/pkg/models"
)

// ItemStore is the persistence surface the executor needs. Satisfied by
// the store.
type ItemStore interface {
	NextPending(queueName string) (*models.QueueItem, error)
	UpdateItemProgress(item *models.QueueItem) error
	RecoverRunning(queueName string) (int, error)
}

// Executor applies queue items to a target environment.
type Executor struct {
	Store  ItemStore
	Target remote.Client

	// PollInterval is how long the worker sleeps when the queue is empty.
	PollInterval time.Duration
}

// ErrHalted is returned by Work when an authentication or permission
// failure makes further execution pointless.
var ErrHalted = errors.New("worker halted")

// ExecuteItem runs one item's payload in order, skipping operations that
// already succeeded on an earlier attempt. Progress is persisted after
// every applied operation, so a crash mid-item never repeats work. The
// first failure stops the item; its final status reflects whether anything
// had landed.
func (e *Executor) ExecuteItem(ctx context.Context, item *models.QueueItem) error {
	var failure error
	for i, op := range item.Payload {
		if item.Succeeded(i) {
			continue
		}
		if err := ctx.Err(); err != nil {
			failure = err
			break
		}

		// Skip and Error operations carry no work; they complete
		// immediately so the index set can cover the whole payload.
		if !op.Mutates() {
			item.MarkSucceeded(i)
			if err := e.Store.UpdateItemProgress(item); err != nil {
				return err
			}
			continue
		}

		if err := e.Target.Execute(ctx, op); err != nil {
			failure = fmt.Errorf("operation %d (%s %s): %w", i, op.Kind, op.Entity, err)
			break
		}
		item.MarkSucceeded(i)
		if err := e.Store.UpdateItemProgress(item); err != nil {
			return err
		}
	}

	switch {
	case failure == nil:
		item.Status = models.StatusSucceeded
		item.LastError = ""
	case len(item.SucceededIndices) > 0 && !item.Complete():
		item.Status = models.StatusPartiallyFailed
		item.LastError = failure.Error()
	default:
		item.Status = models.StatusFailed
		item.LastError = failure.Error()
	}
	if err := e.Store.UpdateItemProgress(item); err != nil {
		return err
	}

	var apiErr *models.ApiError
	if errors.As(failure, &apiErr) && apiErr.Halting() {
		return fmt.Errorf("%w: %v", ErrHalted, failure)
	}
	return nil
}

// Work drains a queue until the context is cancelled or a halting failure
// occurs. Items left running by a previous crash are recovered to pending
// first. Cancellation lets the in-flight item finish; nothing further is
// dequeued.
func (e *Executor) Work(ctx context.Context, queueName string) error {
	recovered, err := e.Store.RecoverRunning(queueName)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger.Warn("queue %s: recovered %d interrupted items", queueName, recovered)
	}

	poll := e.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := e.Store.NextPending(queueName)
		if err != nil {
			return err
		}
		if item == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(poll):
			}
			continue
		}

		logger.Info("queue %s: executing item %s (%s)", queueName, item.ID, item.Description)
		if err := e.ExecuteItem(context.WithoutCancel(ctx), item); err != nil {
			return err
		}
		logger.Info("queue %s: item %s finished with status %s", queueName, item.ID, item.Status)
	}
}
