package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"untiscal/internal/calendar"
	"untiscal/internal/cleanup"
	"untiscal/internal/errs"
	"untiscal/internal/history"
	"untiscal/internal/model"
)

var (
	cleanupDryRun bool
	cleanupYes    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete every lesson event from the calendar",
	Long: `Delete events that look like lessons: tagged by untiscal, titled with a
known subject, located in a room, or described with teacher/room lines.

The window reaches two weeks back and as far ahead as a sync. Use it to
start over after a broken sync; the next sync recreates the lessons.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDeletion(cmd, history.KindCleanup, func(evs []model.RemoteEvent) []cleanup.Candidate {
			return cleanup.FindLessonEvents(evs, nil)
		})
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Delete duplicate lesson events, keeping the oldest of each",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDeletion(cmd, history.KindDedupe, cleanup.FindDuplicates)
	},
}

func runDeletion(cmd *cobra.Command, kind string, find func([]model.RemoteEvent) []cleanup.Candidate) error {
	ctx := cmd.Context()
	run := history.Run{Kind: kind, StartedAt: time.Now()}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	candidates, err := findCandidates(ctx, store, find)
	if err != nil {
		recordRun(ctx, cfg, run, err)
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range candidates {
		fmt.Fprintf(out, "%s  %-10s %-10s (%s)\n", c.Event.Start.Format("2006-01-02 15:04"), c.Event.Summary, c.Event.Location, c.Reason)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(out, "deleted=0 failed=0")
		return nil
	}

	if !cleanupDryRun && !cleanupYes {
		ok, err := confirm(os.Stdin, out, fmt.Sprintf("Delete %d events?", len(candidates)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "aborted")
			return nil
		}
	}

	res := cleanup.Delete(ctx, store, candidates, cleanupDryRun)
	run.Failed = res.Failed
	if !cleanupDryRun {
		recordRun(ctx, cfg, run, nil)
	}

	fmt.Fprintf(out, "deleted=%d failed=%d\n", res.Deleted, res.Failed)
	return nil
}

func findCandidates(ctx context.Context, store calendar.Store, find func([]model.RemoteEvent) []cleanup.Candidate) ([]cleanup.Candidate, error) {
	w := calendar.WindowAround(time.Now(), cleanup.DefaultLookback, cfg.Lookahead())
	events, err := calendar.ListAll(ctx, store, w, cfg.Sync.PageSize)
	if err != nil {
		return nil, err
	}
	return find(events), nil
}

// confirm asks a yes/no question on an interactive terminal. Without one the
// caller has to pass --yes.
func confirm(in *os.File, out io.Writer, question string) (bool, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return false, errs.New(errs.CodeInvalidInput, "refusing to delete without a terminal; pass --yes")
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "j", "ja":
		return true, nil
	}
	return false, nil
}

func init() {
	for _, c := range []*cobra.Command{cleanupCmd, dedupeCmd} {
		c.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "List the events without deleting them")
		c.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Do not ask for confirmation")
	}
	rootCmd.AddCommand(cleanupCmd, dedupeCmd)
}
