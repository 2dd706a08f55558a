package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/workflow"
	"github.com/spf13/cobra"
)

func runCMD(cfgPath *string) *cobra.Command {
	var (
		threadID         string
		autoAccept       bool
		backgroundSearch bool
		local            bool
	)
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run one thread in the foreground, answering plan reviews on the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, *cfgPath, appOptions{service: "cli", memory: local})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				a.Close(sctx)
			}()
			out := cmd.OutOrStdout()
			progress := log.New(cmd.ErrOrStderr(), "", log.Ltime)
			orch, err := a.orchestrator(func(_ context.Context, ev workflow.Event) {
				if ev.Detail != "" {
					progress.Printf("%-18s %s", ev.Node, ev.Detail)
					return
				}
				progress.Printf("%-18s %s", ev.Node, ev.Status)
			})
			if err != nil {
				return err
			}
			st, err := orch.RunInteractive(ctx, threadID, strings.Join(args, " "), workflow.StartOptions{
				AutoAccept:       autoAccept,
				BackgroundSearch: backgroundSearch,
			}, newTerminalChannel(os.Stdin, out))
			if st != nil {
				printState(out, st)
			}
			if err != nil {
				return err
			}
			if st.Status == workflow.StatusFailed {
				return fmt.Errorf("thread %s failed", st.ThreadID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id (default random)")
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "skip the plan review")
	cmd.Flags().BoolVar(&backgroundSearch, "background-search", false, "search before planning")
	cmd.Flags().BoolVar(&local, "local", false, "keep checkpoints in memory and write reports to report.output_dir")
	return cmd
}
