package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// terminalChannel asks the human on a terminal. A numeric answer picks the
// matching option; anything else is passed through as free text.
type terminalChannel struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalChannel(in io.Reader, out io.Writer) *terminalChannel {
	return &terminalChannel{in: bufio.NewReader(in), out: out}
}

func (t *terminalChannel) Raise(ctx context.Context, intr workflow.Interrupt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, intr.Prompt)
	for i, o := range intr.Options {
		fmt.Fprintf(t.out, "  [%d] %s\n", i+1, o.Label)
	}
	fmt.Fprint(t.out, "> ")
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read reply: %w", err)
	}
	line = strings.TrimSpace(line)
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(intr.Options) {
		return line, nil
	}
	choice := intr.Options[n-1].Value
	if choice != "edit_plan" {
		return choice, nil
	}
	fmt.Fprint(t.out, "feedback> ")
	feedback, err := t.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read feedback: %w", err)
	}
	return strings.TrimSpace("[EDIT_PLAN] " + strings.TrimSpace(feedback)), nil
}

func printState(w io.Writer, st *workflow.State) {
	fmt.Fprintf(w, "thread %s: %s at %s\n", st.ThreadID, st.Status, st.Node)
	if st.Error != "" {
		fmt.Fprintf(w, "error: %s\n", st.Error)
	}
	if st.Interrupt != nil {
		fmt.Fprintf(w, "waiting for reply: %s\n", st.Interrupt.Prompt)
		for _, o := range st.Interrupt.Options {
			fmt.Fprintf(w, "  %s -> %s\n", o.Label, o.Value)
		}
	}
	if r := st.Report; r != nil {
		if r.Path != "" {
			fmt.Fprintf(w, "report written to %s (%d sections)\n", r.Path, r.Sections)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, r.Content)
	}
}
