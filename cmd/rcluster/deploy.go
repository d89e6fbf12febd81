package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/rcluster/pkg/deploy"
	"github.com/cuemby/rcluster/pkg/placement"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Install, configure and form the cluster",
	Long: `Deploy runs the host pipeline (system prep, engine install, instances,
exporters) on every node, forms the cluster once all hosts succeeded, then
validates it.

Examples:
  # Preview every remote command
  rcluster deploy -c topology.yaml --dry-run

  # Work on three hosts at a time
  rcluster deploy -c topology.yaml --parallelism 3`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().Bool("skip-validation", false, "Stop after cluster formation")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, setupOptions{remote: true, history: true, strictSSH: true})
	if err != nil {
		return err
	}
	defer a.close()

	plan, err := placement.Plan(a.spec)
	if err != nil {
		a.finish()
		return err
	}
	if a.dryRun {
		a.printf("Dry run: no host will be changed\n")
	}
	printPlan(a.out, plan)
	a.printf("\n")

	skip, _ := cmd.Flags().GetBool("skip-validation")
	d := a.deployer(func(o *deploy.Options) { o.SkipValidation = skip })

	result, err := d.Deploy(cmd.Context(), a.spec)
	a.finish()
	printDeployResult(a.out, result)
	if err != nil {
		return err
	}
	a.printf("\n✓ Deployment complete\n")
	return nil
}
