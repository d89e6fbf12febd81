package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Stop and remove every instance on every host",
	Long: `Rollback stops and disables each instance unit, removes its unit file
and config, removes per-instance exporter units, and reloads systemd.

Data directories and the installed engine are left in place. Every sub-step
is attempted even if earlier ones failed, and running it twice is harmless.`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().Bool("yes", false, "Confirm that instances should be removed")
}

func runRollback(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if !yes && !dryRun {
		return fmt.Errorf("rollback removes every instance; pass --yes to confirm or --dry-run to preview")
	}

	a, err := newApp(cmd, setupOptions{remote: true, history: true, strictSSH: true})
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.deployer().Rollback(cmd.Context(), a.spec)
	a.finish()
	a.printf("\n")
	printRollbackReports(a.out, result.Reports)
	if err != nil {
		return err
	}
	a.printf("\n✓ Rollback executed\n")
	return nil
}
