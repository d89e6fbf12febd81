package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/rcluster/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rcluster",
	Short: "rcluster - Redis Cluster provisioning over SSH",
	Long: `rcluster installs Redis on a set of hosts, lays out primaries and
replicas so no replica shares a host with its primary, forms the cluster
and verifies the result.

Everything is driven by one topology file:

  rcluster plan        -c topology.yaml
  rcluster prevalidate -c topology.yaml
  rcluster deploy      -c topology.yaml [--dry-run]
  rcluster validate    -c topology.yaml
  rcluster rollback    -c topology.yaml --yes`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"rcluster version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "topology.yaml", "Path to the topology file")
	flags.Bool("dry-run", false, "Log every remote action instead of running it")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("json", false, "Write logs as JSON")
	flags.String("log-file", defaultLogFile(), "Also append JSON logs to this file (empty disables)")
	flags.String("state-dir", defaultStateDir(), "Directory holding run history")
	flags.String("metrics-file", "", "Write Prometheus metrics here in node_exporter textfile format")
	flags.Int("parallelism", 1, "Number of hosts worked on at once")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(prevalidateCmd)
	rootCmd.AddCommand(historyCmd)
}

func defaultLogFile() string {
	if p := os.Getenv("RCLUSTER_LOG_PATH"); p != "" {
		return p
	}
	return log.DefaultFilePath
}

func defaultStateDir() string {
	if d := os.Getenv("RCLUSTER_STATE_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rcluster"
	}
	return filepath.Join(home, ".rcluster")
}
