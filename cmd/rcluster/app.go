package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/rcluster/pkg/config"
	"github.com/cuemby/rcluster/pkg/deploy"
	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/health"
	"github.com/cuemby/rcluster/pkg/log"
	"github.com/cuemby/rcluster/pkg/metrics"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/storage"
	"github.com/cuemby/rcluster/pkg/types"
)

// app is everything one command invocation needs
type app struct {
	out         io.Writer
	logger      zerolog.Logger
	logCloser   io.Closer
	configPath  string
	spec        *types.TopologySpec
	dryRun      bool
	parallelism int
	metricsFile string
	stateDir    string

	executor remote.Executor
	store    storage.Store
	broker   *events.Broker
	progress *progress
}

type setupOptions struct {
	// remote builds an executor (SSH, or dry-run when --dry-run is set)
	remote bool
	// history opens the run history store
	history bool
	// strictSSH requires usable credentials at load time
	strictSSH bool
}

func newApp(cmd *cobra.Command, opts setupOptions) (*app, error) {
	flags := cmd.Flags()
	level, _ := flags.GetString("log-level")
	jsonOutput, _ := flags.GetBool("json")
	logFile, _ := flags.GetString("log-file")

	a := &app{out: cmd.OutOrStdout()}
	a.configPath, _ = flags.GetString("config")
	a.dryRun, _ = flags.GetBool("dry-run")
	a.parallelism, _ = flags.GetInt("parallelism")
	a.metricsFile, _ = flags.GetString("metrics-file")
	a.stateDir, _ = flags.GetString("state-dir")

	logger, closer, err := log.New(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
		Output:     cmd.ErrOrStderr(),
		FilePath:   logFile,
	})
	if err != nil {
		return nil, err
	}
	a.logger = log.WithComponent(logger, "cli")
	a.logCloser = closer

	a.spec, err = config.Load(cmd.Context(), a.configPath)
	if err != nil {
		a.close()
		return nil, err
	}
	if opts.strictSSH && !a.dryRun {
		if err := a.spec.SSH.ValidateCredentials(); err != nil {
			a.close()
			return nil, err
		}
	}

	if opts.remote {
		if a.dryRun {
			a.executor = remote.NewDryRunExecutor(logger)
		} else {
			exec, err := remote.NewSSHExecutor(remote.SSHConfigFromSpec(a.spec.SSH), logger)
			if err != nil {
				a.close()
				return nil, err
			}
			a.executor = exec
		}
	}

	if opts.history {
		store, err := storage.NewBoltStore(a.stateDir)
		if err != nil {
			// A locked or unwritable state dir only disables history.
			a.logger.Warn().Err(err).Str("state_dir", a.stateDir).Msg("Run history disabled")
		} else {
			a.store = store
		}
	}

	a.broker = events.NewBroker()
	a.broker.Start()
	a.progress = newProgress(a.out, a.broker.SubscribeAll())
	return a, nil
}

func (a *app) deployer(tweaks ...func(*deploy.Options)) *deploy.Deployer {
	opts := deploy.Options{
		Parallelism: a.parallelism,
		DryRun:      a.dryRun,
		Probe:       health.DefaultConfig(),
		ConfigPath:  a.configPath,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	return deploy.NewDeployer(a.executor, a.store, a.broker, opts, a.logger)
}

// finish flushes progress output and writes the metrics file
func (a *app) finish() {
	if a.broker != nil {
		a.broker.Stop()
		a.progress.wait()
	}
	if a.metricsFile != "" {
		if err := metrics.WriteTextfile(a.metricsFile); err != nil {
			a.logger.Warn().Err(err).Str("path", a.metricsFile).Msg("Failed to write metrics file")
		}
	}
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// setupHistoryOnly opens logging and the store without loading a topology
func setupHistoryOnly(cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()
	level, _ := flags.GetString("log-level")
	jsonOutput, _ := flags.GetBool("json")

	logger, closer, err := log.New(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
		Output:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	a := &app{out: cmd.OutOrStdout(), logger: logger, logCloser: closer}
	a.stateDir, _ = flags.GetString("state-dir")

	store, err := storage.NewBoltStore(a.stateDir)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	return a, nil
}
