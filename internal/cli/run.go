package cli

import (
	"github.com/spf13/cobra"

	"github.com/recmig/recmig/internal/engine"
	"github.com/recmig/recmig/pkg/logger"
)

type RunOptions struct {
	QueueName string
	BatchSize int
	DryRun    bool
}

func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <config-name>",
		Short: "Transform a config's records and enqueue the resulting operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runConfig(c, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.QueueName, "queue", "q", "default", "Queue to enqueue operations onto")
	cmd.Flags().IntVarP(&opts.BatchSize, "batch-size", "b", 0, "Operations per queue item (0 uses BATCH_SIZE)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Transform and report without enqueueing")

	return cmd
}

func runConfig(c *cobra.Command, configName string, opts *RunOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	source, target, err := a.environments()
	if err != nil {
		return err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = a.cfg.BatchSize
	}

	updates := make(chan engine.Update, 256)
	done := make(chan struct{})
	go func() {
		engine.Drain(updates)
		close(done)
	}()

	pipeline := &engine.Pipeline{
		Configs:          a.store,
		Queue:            a.store,
		Source:           source,
		Target:           target,
		QueueName:        opts.QueueName,
		BatchSize:        batchSize,
		FetchConcurrency: a.cfg.FetchConcurrency,
		DryRun:           opts.DryRun,
		Reporter:         engine.NewReporter(updates),
	}

	summary, err := pipeline.Run(c.Context(), configName)
	close(updates)
	<-done
	if err != nil {
		return err
	}

	logger.Info("%s", summary.String())
	if opts.DryRun {
		logger.Info("dry run: nothing enqueued")
	}
	return nil
}
