package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/rcluster/pkg/health"
	"github.com/cuemby/rcluster/pkg/remote"
)

var prevalidateCmd = &cobra.Command{
	Use:   "prevalidate",
	Short: "Check credentials and SSH reachability of every host",
	Long: `Prevalidate requires usable SSH credentials, checks that every host's SSH
port accepts TCP connections, then opens an SSH session and runs "true".
Nothing is changed on the hosts.`,
	RunE: runPrevalidate,
}

type hostCheck struct {
	host      string
	reachable error
	session   error
}

func runPrevalidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, setupOptions{remote: true, strictSSH: true})
	if err != nil {
		return err
	}
	defer a.close()
	defer a.finish()

	a.printf("✓ SSH credentials configured for %q\n", a.spec.SSH.User)

	checks := make([]hostCheck, len(a.spec.Nodes))
	var g errgroup.Group
	g.SetLimit(max(a.parallelism, 1))
	for i, host := range a.spec.Nodes {
		g.Go(func() error {
			checks[i] = checkHost(cmd, a, host)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, c := range checks {
		switch {
		case c.reachable != nil:
			a.printf("✗ %-24s %v\n", c.host, c.reachable)
			errs = append(errs, fmt.Errorf("host %s: %w", c.host, c.reachable))
		case c.session != nil:
			a.printf("✗ %-24s %v\n", c.host, c.session)
			errs = append(errs, fmt.Errorf("host %s: %w", c.host, c.session))
		default:
			a.printf("✓ %-24s ssh ok\n", c.host)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.printf("\n✓ Pre-validation passed\n")
	return nil
}

func checkHost(cmd *cobra.Command, a *app, host string) hostCheck {
	c := hostCheck{host: host}
	ctx := cmd.Context()

	if !a.dryRun {
		checker := health.NewHostPortChecker(host, a.spec.SSH.Port).WithTimeout(a.spec.SSH.TimeoutDuration())
		if res := checker.Check(ctx); !res.Healthy {
			c.reachable = errors.New(res.Message)
			return c
		}
	}

	session, err := a.executor.Connect(ctx, host)
	if err != nil {
		c.session = err
		return c
	}
	defer session.Close()
	if _, err := remote.RunChecked(ctx, session, "true", false); err != nil {
		c.session = err
	}
	return c
}
