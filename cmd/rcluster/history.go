package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/rcluster/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "List recorded deploy, validate and rollback runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("kind", "", "Only show runs of this kind (deploy, validate, rollback)")
	historyCmd.Flags().Int("limit", 20, "Show at most this many runs")
	historyCmd.Flags().Bool("hosts", false, "Show the last known state of each host instead")
	historyCmd.Flags().Int("prune", -1, "Delete all but the N most recent runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := setupHistoryOnly(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	flags := cmd.Flags()
	if keep, _ := flags.GetInt("prune"); keep >= 0 {
		removed, err := a.store.PruneRuns(keep)
		if err != nil {
			return err
		}
		a.printf("Pruned %d run(s)\n", removed)
		return nil
	}

	if len(args) == 1 {
		run, err := a.store.GetRun(args[0])
		if err != nil {
			return err
		}
		printRun(a.out, run)
		return nil
	}

	if hosts, _ := flags.GetBool("hosts"); hosts {
		states, err := a.store.ListHostStates()
		if err != nil {
			return err
		}
		if len(states) == 0 {
			a.printf("No hosts recorded\n")
			return nil
		}
		a.printf("%-24s %-10s %-8s %-20s %s\n", "HOST", "VERSION", "FAMILY", "UPDATED", "PORTS")
		for _, s := range states {
			a.printf("%-24s %-10s %-8s %-20s %s\n", s.Host, s.EngineVersion, s.Family, s.UpdatedAt.Local().Format(time.DateTime), joinInts(s.Ports))
		}
		return nil
	}

	kind, _ := flags.GetString("kind")
	limit, _ := flags.GetInt("limit")
	runs, err := a.store.ListRuns(types.RunKind(kind))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		a.printf("No runs recorded\n")
		return nil
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	a.printf("%-36s %-9s %-10s %-20s %-10s %s\n", "RUN", "KIND", "RESULT", "STARTED", "DURATION", "HOSTS")
	for _, r := range runs {
		result := string(r.Result)
		if r.DryRun {
			result += "*"
		}
		a.printf("%-36s %-9s %-10s %-20s %-10s %d\n",
			r.ID, r.Kind, result, r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Second), len(r.Nodes))
	}
	return nil
}

func printRun(w io.Writer, run *types.Run) {
	row := func(k string, v any) { fmt.Fprintf(w, "%-12s %v\n", k+":", v) }
	row("Run", run.ID)
	row("Kind", run.Kind)
	row("Result", run.Result)
	row("Dry run", run.DryRun)
	if run.ConfigPath != "" {
		row("Config", run.ConfigPath)
	}
	row("Started", run.StartedAt.Local().Format(time.RFC3339))
	row("Duration", run.Duration().Round(time.Millisecond))
	row("Nodes", strings.Join(run.Nodes, ", "))
	row("Topology", fmt.Sprintf("%d primaries, %d replicas", run.Primaries, run.Replicas))
	if run.Error != "" {
		row("Error", run.Error)
	}
	if len(run.Hosts) == 0 {
		return
	}
	fmt.Fprintln(w, "Hosts:")
	for _, h := range run.Hosts {
		mark := "✓"
		if !h.OK {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %-24s %s", mark, h.Host, strings.Join(h.Steps, ","))
		if h.Error != "" {
			fmt.Fprintf(w, " %s", h.Error)
		}
		fmt.Fprintln(w)
	}
}
