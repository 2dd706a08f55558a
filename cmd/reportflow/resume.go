package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
	"github.com/spf13/cobra"
)

func resumeCMD(cfgPath *string) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "resume [thread-id] [reply]",
		Short: "Answer a suspended thread",
		Long:  "Answer a suspended thread. The reply is [ACCEPTED] to approve the plan or [EDIT_PLAN] followed by feedback.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			threadID, reply := args[0], strings.Join(args[1:], " ")
			a, err := loadApp(ctx, *cfgPath, appOptions{service: "cli", needRedis: async})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				a.Close(sctx)
			}()

			if async {
				st, ok, err := a.threads.ReadCheckpoint(ctx, threadID)
				if err != nil {
					return err
				}
				if !ok {
					return workflow.ErrThreadNotFound
				}
				if st.Status != workflow.StatusSuspended {
					return workflow.ErrNotSuspended
				}
				pub, err := a.publisher()
				if err != nil {
					return err
				}
				id, err := pub.PublishEvent(ctx, a.cfg.Streams.Threads, streams.EventThreadResumed, streams.ThreadResumed{ThreadID: threadID, Reply: reply})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resume queued as %s\n", id)
				return nil
			}

			orch, err := a.orchestrator(nil)
			if err != nil {
				return err
			}
			st, err := orch.Resume(ctx, threadID, reply)
			if st != nil {
				printState(cmd.OutOrStdout(), st)
			}
			if errors.Is(err, workflow.ErrNotSuspended) {
				return fmt.Errorf("thread %s is %s: %w", threadID, st.Status, err)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "publish the reply for a worker instead of driving the thread here")
	return cmd
}
