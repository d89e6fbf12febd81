package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/rcluster/pkg/placement"
	"github.com/cuemby/rcluster/pkg/types"
)

// minHAInstances is the smallest cluster with a replica for each of three primaries
const minHAInstances = 6

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Summarise the topology and show the planned placement",
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, setupOptions{})
	if err != nil {
		return err
	}
	defer a.close()
	defer a.finish()

	printSummary(a.out, a.spec)

	a.printf("\nConfiguration checks:\n")
	warnings := planWarnings(a.spec)
	for _, w := range warnings {
		a.printf("  ⚠ %s\n", w)
	}
	if len(warnings) == 0 {
		a.printf("  ✓ no warnings\n")
	}

	a.printf("\nEnvironment:\n")
	printEnvironment(a.out)

	plan, err := placement.Plan(a.spec)
	if err != nil {
		return err
	}
	a.printf("\n")
	printPlan(a.out, plan)
	return nil
}

func printSummary(w io.Writer, spec *types.TopologySpec) {
	row := func(k string, v any) { fmt.Fprintf(w, "  %-22s %v\n", k, v) }

	fmt.Fprintln(w, "Topology:")
	row("Nodes", fmt.Sprintf("%v", spec.Nodes))
	row("Redis version", spec.EngineVersion)
	row("Port range", fmt.Sprintf("%d-%d", spec.Ports.Base, spec.Ports.Base+spec.Ports.CountPerHost-1))
	row("Instances per host", spec.Ports.CountPerHost)
	row("Primaries", spec.Cluster.Primaries)
	row("Replicas per primary", spec.Cluster.ReplicasPerPrimary)
	row("Total instances", spec.TotalInstances())
	row("Persistence", spec.Persistence.Mode)
	row("AOF fsync", spec.Persistence.AOFFsync)
	row("Disable swap", spec.SystemPrep.DisableSwap)
	row("Exporters", fmt.Sprintf("node=%t redis=%t", spec.Observability.NodeExporter, spec.Observability.RedisExporter))
	row("Platform", spec.Platform.Kind)
	user := spec.SSH.User
	if user == "" {
		user = "not configured"
	}
	row("SSH user", user)
	row("SSH port", spec.SSH.Port)
}

func planWarnings(spec *types.TopologySpec) []string {
	var warnings []string
	if spec.SSH.User == "" {
		warnings = append(warnings, "SSH user not configured; set ssh.user or REDIS_DEPLOY_SSH_USER")
	}
	if spec.SSH.Password == "" && spec.SSH.PrivateKey == "" {
		warnings = append(warnings, "no SSH authentication configured; set ssh.password or ssh.private_key")
	}
	if spec.TotalInstances() < minHAInstances {
		warnings = append(warnings, fmt.Sprintf("a highly available cluster needs at least %d instances, topology has %d", minHAInstances, spec.TotalInstances()))
	}
	if spec.Persistence.Mode == types.PersistenceNone {
		warnings = append(warnings, "persistence disabled; data is lost on restart")
	}
	if spec.Cluster.ReplicasPerPrimary == 0 {
		warnings = append(warnings, "no replicas; losing any host loses its slots")
	}
	return warnings
}

func printEnvironment(w io.Writer) {
	vars := []struct {
		name   string
		secret bool
	}{
		{"REDIS_DEPLOY_SSH_USER", false},
		{"REDIS_DEPLOY_SSH_PORT", false},
		{"REDIS_DEPLOY_SSH_PASSWORD", true},
		{"REDIS_DEPLOY_SSH_KEY", true},
	}
	for _, v := range vars {
		value := os.Getenv(v.name)
		switch {
		case value == "":
			fmt.Fprintf(w, "  - %s not set\n", v.name)
		case v.secret:
			fmt.Fprintf(w, "  ✓ %s ***\n", v.name)
		default:
			fmt.Fprintf(w, "  ✓ %s %s\n", v.name, value)
		}
	}
}
