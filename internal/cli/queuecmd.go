package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recmig/recmig/internal/queue"
	"github.com/recmig/recmig/pkg/logger"
)

func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drive the work queue",
	}

	var listQueue string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items in dequeue order",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			items, err := a.store.ListItems(listQueue)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUEUE\tPRIO\tSTATUS\tOPS\tDONE\tATTEMPTS\tDESCRIPTION")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\t%s\n",
					item.ID, item.QueueName, item.Priority, item.Status,
					len(item.Payload), len(item.SucceededIndices), item.Attempts,
					item.Description)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVarP(&listQueue, "queue", "q", "", "Limit to one queue")

	retryCmd := &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Move a failed item back to pending, keeping applied operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.RetryItem(args[0]); err != nil {
				return err
			}
			logger.Info("item %s moved back to pending", args[0])
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete a queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.DeleteItem(args[0])
		},
	}

	var workQueue string
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Run a worker that drains a queue against the target environment",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			target, err := a.targetEnvironment()
			if err != nil {
				return err
			}

			manager := queue.NewManager()
			if err := manager.Register(workQueue); err != nil {
				return err
			}
			defer manager.Release(workQueue)

			executor := &queue.Executor{Store: a.store, Target: target}
			logger.Info("worker started on queue %q", workQueue)
			err = executor.Work(c.Context(), workQueue)
			if errors.Is(err, context.Canceled) {
				logger.Info("worker on queue %q stopped", workQueue)
				return nil
			}
			return err
		},
	}
	workCmd.Flags().StringVarP(&workQueue, "queue", "q", "default", "Queue to drain")

	cmd.AddCommand(listCmd, retryCmd, deleteCmd, workCmd)
	return cmd
}
