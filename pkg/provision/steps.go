package provision

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/render"
	"github.com/cuemby/rcluster/pkg/types"
)

// SysctlPath is the drop-in persisting kernel tuning across reboots
const SysctlPath = "/etc/sysctl.d/99-rcluster.conf"

const fstabSwapComment = `sed -ri 's/^\s*([^#]\S+\s+\S+\s+swap\s+\S+\s+\S+.*)$/# \1/' /etc/fstab`

// SysctlConf renders the persisted kernel settings
func SysctlConf(spec *types.TopologySpec) string {
	var b strings.Builder
	b.WriteString("# Managed by rcluster\n")
	fmt.Fprintf(&b, "vm.swappiness = %d\n", spec.SystemPrep.Swappiness)
	if spec.SystemPrep.ConfigureOvercommit {
		b.WriteString("vm.overcommit_memory = 1\n")
	}
	return b.String()
}

func (p *Provisioner) systemPrep(ctx context.Context, s remote.Session, spec *types.TopologySpec, _ *HostReport) error {
	cmds := []string{
		"swapoff -a",
		fstabSwapComment,
		fmt.Sprintf("sysctl -w vm.swappiness=%d", spec.SystemPrep.Swappiness),
	}
	if spec.SystemPrep.ConfigureOvercommit {
		cmds = append(cmds, "sysctl -w vm.overcommit_memory=1")
	}

	for _, cmd := range cmds {
		if _, err := remote.RunChecked(ctx, s, cmd, true); err != nil {
			return err
		}
	}

	if err := s.WriteFile(ctx, SysctlPath, []byte(SysctlConf(spec)), 0o644); err != nil {
		return err
	}
	return nil
}

func (p *Provisioner) instances(ctx context.Context, s remote.Session, spec *types.TopologySpec, report *HostReport) error {
	for _, port := range spec.HostPorts() {
		if err := ctx.Err(); err != nil {
			return &portError{port: port, err: fmt.Errorf("cancelled: %w", err)}
		}
		if err := p.configureInstance(ctx, s, spec, port); err != nil {
			return &portError{port: port, err: err}
		}
		report.Ports = append(report.Ports, port)
		p.logger.Debug().Str("host", s.Host()).Int("port", port).Msg("Instance configured")
	}
	return nil
}

func (p *Provisioner) configureInstance(ctx context.Context, s remote.Session, spec *types.TopologySpec, port int) error {
	dataDir := render.DataDir(spec, port)
	dirs := fmt.Sprintf("mkdir -p %s %s %s && chown -R %s:%s %s %s",
		remote.Quote(spec.Paths.ConfigDir), remote.Quote(dataDir), remote.Quote(spec.Paths.LogDir),
		render.ServiceUser, render.ServiceUser, remote.Quote(dataDir), remote.Quote(spec.Paths.LogDir))
	if _, err := remote.RunChecked(ctx, s, dirs, true); err != nil {
		return err
	}

	conf, err := render.RedisConf(spec, port)
	if err != nil {
		return err
	}
	if err := s.WriteFile(ctx, render.ConfPath(spec, port), conf, 0o644); err != nil {
		return err
	}

	unit, err := render.RedisUnit(spec, port)
	if err != nil {
		return err
	}
	if err := s.WriteFile(ctx, render.UnitPath(spec, port), unit, 0o644); err != nil {
		return err
	}

	return restartUnit(ctx, s, render.UnitName(port))
}

// restartUnit reloads unit files then enables and restarts unit
func restartUnit(ctx context.Context, s remote.Session, unit string) error {
	for _, cmd := range []string{
		"systemctl daemon-reload",
		"systemctl enable " + unit,
		"systemctl restart " + unit,
	} {
		if _, err := remote.RunChecked(ctx, s, cmd, true); err != nil {
			return err
		}
	}
	return nil
}

// releaseArch maps uname -m output to the arch suffix of exporter releases
func releaseArch(ctx context.Context, s remote.Session) string {
	res, err := s.Run(ctx, "uname -m", false)
	if err != nil || res.Skipped || res.ExitCode != 0 {
		return "amd64"
	}
	switch strings.TrimSpace(res.Stdout) {
	case "aarch64", "arm64":
		return "arm64"
	default:
		return "amd64"
	}
}

func (p *Provisioner) exporters(ctx context.Context, s remote.Session, spec *types.TopologySpec, _ *HostReport) error {
	obs := spec.Observability
	arch := releaseArch(ctx, s)
	bin := path.Join(spec.Paths.InstallPrefix, "bin")

	if obs.NodeExporter {
		if err := p.installNodeExporter(ctx, s, spec, arch, bin); err != nil {
			return fmt.Errorf("%w: node_exporter: %w", ErrExporterFailed, err)
		}
	}

	if obs.RedisExporter {
		name := fmt.Sprintf("redis_exporter-v%s.linux-%s", obs.RedisExporterVersion, arch)
		url := fmt.Sprintf("https://github.com/oliver006/redis_exporter/releases/download/v%s/%s.tar.gz",
			obs.RedisExporterVersion, name)
		if err := fetchBinary(ctx, s, url, name, "redis_exporter", bin); err != nil {
			return fmt.Errorf("%w: redis_exporter: %w", ErrExporterFailed, err)
		}

		for _, port := range spec.HostPorts() {
			if err := ctx.Err(); err != nil {
				return &portError{port: port, err: fmt.Errorf("%w: cancelled: %w", ErrExporterFailed, err)}
			}
			unit, err := render.RedisExporterUnitFile(spec, port)
			if err == nil {
				err = s.WriteFile(ctx, render.ExporterUnitPath(spec, port), unit, 0o644)
			}
			if err == nil {
				err = restartUnit(ctx, s, render.ExporterUnitName(port))
			}
			if err != nil {
				return &portError{port: port, err: fmt.Errorf("%w: %w", ErrExporterFailed, err)}
			}
		}
	}

	return p.verifyExporters(ctx, s, spec)
}

func (p *Provisioner) installNodeExporter(ctx context.Context, s remote.Session, spec *types.TopologySpec, arch, bin string) error {
	obs := spec.Observability
	name := fmt.Sprintf("node_exporter-%s.linux-%s", obs.NodeExporterVersion, arch)
	url := fmt.Sprintf("https://github.com/prometheus/node_exporter/releases/download/v%s/%s.tar.gz",
		obs.NodeExporterVersion, name)
	if err := fetchBinary(ctx, s, url, name, "node_exporter", bin); err != nil {
		return err
	}

	unit, err := render.NodeExporterUnitFile(spec)
	if err != nil {
		return err
	}
	if err := s.WriteFile(ctx, render.NodeExporterUnitPath(spec), unit, 0o644); err != nil {
		return err
	}
	return restartUnit(ctx, s, render.NodeExporterUnit)
}

// fetchBinary downloads a release tarball into /tmp and installs one binary from it
func fetchBinary(ctx context.Context, s remote.Session, url, name, binary, binDir string) error {
	cmds := []string{
		fmt.Sprintf("cd /tmp && rm -rf %[1]s %[1]s.tar.gz && wget -q %[2]s && tar xzf %[1]s.tar.gz", name, url),
		fmt.Sprintf("install -m 0755 /tmp/%s/%s %s", name, binary, path.Join(binDir, binary)),
	}
	for _, cmd := range cmds {
		if _, err := remote.RunChecked(ctx, s, cmd, true); err != nil {
			return err
		}
	}
	return nil
}

// MetricsProbe polls an exporter's /metrics for a few seconds after restart
func MetricsProbe(port int) string {
	return fmt.Sprintf("for i in 1 2 3 4 5; do curl -fsS -o /dev/null http://127.0.0.1:%d/metrics && exit 0; sleep 1; done; exit 1", port)
}

func (p *Provisioner) verifyExporters(ctx context.Context, s remote.Session, spec *types.TopologySpec) error {
	obs := spec.Observability
	if obs.NodeExporter {
		if _, err := remote.RunChecked(ctx, s, MetricsProbe(obs.NodeExporterPort), false); err != nil {
			return fmt.Errorf("%w: node_exporter not serving metrics: %w", ErrExporterFailed, err)
		}
	}
	if obs.RedisExporter {
		for _, port := range spec.HostPorts() {
			if _, err := remote.RunChecked(ctx, s, MetricsProbe(render.ExporterPort(spec, port)), false); err != nil {
				return &portError{port: port, err: fmt.Errorf("%w: redis_exporter not serving metrics: %w", ErrExporterFailed, err)}
			}
		}
	}
	return nil
}
