package main

import (
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the running cluster matches the topology",
	Long: `Validate pings every instance, then checks cluster_state, the number of
primaries and replicas, and that no replica shares a host with its primary.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, setupOptions{remote: true, history: true, strictSSH: true})
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.deployer().Validate(cmd.Context(), a.spec)
	a.finish()
	printValidationReport(a.out, report, err)
	if err != nil {
		return err
	}
	a.printf("\n✓ Validation OK\n")
	return nil
}
