package main

import (
	"fmt"

	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/spf13/cobra"
)

func cancelCMD(cfgPath *string) *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "cancel [thread-id]",
		Short: "Cancel a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, *cfgPath, appOptions{service: "cli", needRedis: notify})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				a.Close(sctx)
			}()
			orch, err := a.orchestrator(nil)
			if err != nil {
				return err
			}
			st, err := orch.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), st)
			if notify {
				pub, err := a.publisher()
				if err != nil {
					return err
				}
				if _, err := pub.PublishEvent(ctx, a.cfg.Streams.Threads, streams.EventThreadCancelled, streams.ThreadCancelled{ThreadID: args[0]}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "workers notified")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", true, "also publish the cancel event for running workers")
	return cmd
}
