// Package cluster issues the one-time cluster create command.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/rcluster/pkg/metrics"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/types"
)

// ErrFormationFailed is wrapped by every formation failure
var ErrFormationFailed = errors.New("cluster formation failed")

// FormationError reports where formation was attempted and why it failed.
// Formation is never retried: re-running create against a partially formed
// cluster is unsafe.
type FormationError struct {
	Endpoint types.Endpoint
	Cause    error
}

func (e *FormationError) Error() string {
	if e.Endpoint.Host == "" {
		return fmt.Sprintf("cluster formation failed: %v", e.Cause)
	}
	return fmt.Sprintf("cluster formation on %s failed: %v", e.Endpoint, e.Cause)
}

// Unwrap exposes ErrFormationFailed and the cause
func (e *FormationError) Unwrap() []error {
	return []error{ErrFormationFailed, e.Cause}
}

// CreateCommand builds the create command for primaries in the given order
func CreateCommand(prefix string, primaries []types.Endpoint, replicasPerPrimary int) string {
	parts := []string{prefix + "/bin/redis-cli", "--cluster", "create"}
	for _, p := range primaries {
		parts = append(parts, p.String())
	}
	parts = append(parts, "--cluster-yes")
	if replicasPerPrimary > 0 {
		parts = append(parts, "--cluster-replicas", strconv.Itoa(replicasPerPrimary))
	}
	return strings.Join(parts, " ")
}

// Form creates the cluster from primaries, issuing a single command on the
// first primary's host.
func Form(ctx context.Context, spec *types.TopologySpec, primaries []types.Endpoint, executor remote.Executor, logger zerolog.Logger) error {
	if len(primaries) == 0 {
		return &FormationError{Cause: errors.New("no primaries to form a cluster from")}
	}

	target := primaries[0]
	cmd := CreateCommand(spec.Paths.InstallPrefix, primaries, spec.Cluster.ReplicasPerPrimary)
	logger = logger.With().Str("component", "cluster").Str("host", target.Host).Logger()

	session, err := executor.Connect(ctx, target.Host)
	if err != nil {
		return &FormationError{Endpoint: target, Cause: err}
	}
	defer session.Close()

	logger.Info().Str("command", cmd).Int("primaries", len(primaries)).Msg("Forming cluster")

	timer := metrics.NewTimer()
	res, err := remote.RunChecked(ctx, session, cmd, false)
	timer.ObserveDuration(metrics.FormationDuration)
	if err != nil {
		return &FormationError{Endpoint: target, Cause: err}
	}

	if !res.Skipped && !strings.Contains(res.Stdout, "[OK]") {
		logger.Warn().Str("output", strings.TrimSpace(res.Stdout)).Msg("Create reported no [OK] line")
	}
	logger.Info().Dur("duration", timer.Duration()).Msg("Cluster formed")
	return nil
}
