package provision

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/render"
	"github.com/cuemby/rcluster/pkg/types"
)

// PackageFamily is the package manager lineage of a host
type PackageFamily string

const (
	FamilyDebian  PackageFamily = "debian"
	FamilyRHEL    PackageFamily = "rhel"
	FamilyUnknown PackageFamily = "unknown"
)

// BuildTimeout bounds a single source build command
const BuildTimeout = 30 * time.Minute

const (
	buildDir    = "/tmp/rcluster-src"
	downloadURL = "https://download.redis.io/releases"
)

// ParseOSRelease maps the ID and ID_LIKE lines of /etc/os-release to a family
func ParseOSRelease(out string) PackageFamily {
	for _, field := range strings.Fields(strings.ToLower(out)) {
		field = strings.Trim(field, `"'`)
		switch field {
		case "debian", "ubuntu":
			return FamilyDebian
		case "rhel", "centos", "fedora", "rocky", "almalinux", "amzn":
			return FamilyRHEL
		}
	}
	return FamilyUnknown
}

func detectFamily(ctx context.Context, s remote.Session) PackageFamily {
	res, err := s.Run(ctx, `. /etc/os-release && echo "$ID" && echo "$ID_LIKE"`, false)
	if err != nil || !res.OK() || res.Skipped {
		return FamilyUnknown
	}
	return ParseOSRelease(res.Stdout)
}

func prerequisiteCommands(family PackageFamily) []string {
	switch family {
	case FamilyDebian:
		return []string{
			"apt-get update -y",
			"DEBIAN_FRONTEND=noninteractive apt-get install -y build-essential tcl pkg-config wget tar gcc make curl",
		}
	case FamilyRHEL:
		return []string{
			"yum install -y gcc make tcl pkgconfig wget tar curl",
		}
	default:
		return []string{
			"command -v gcc && command -v make && command -v wget && command -v tar",
		}
	}
}

func versionCommand(spec *types.TopologySpec) string {
	return path.Join(spec.Paths.InstallPrefix, "bin", "redis-server") + " --version"
}

func reportsVersion(res remote.Result, version string) bool {
	return res.ExitCode == 0 && strings.Contains(res.Stdout, "v="+version)
}

func (p *Provisioner) engineInstall(ctx context.Context, s remote.Session, spec *types.TopologySpec, report *HostReport) error {
	if err := p.installEngine(ctx, s, spec, report); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineInstallFailed, err)
	}
	return nil
}

func (p *Provisioner) installEngine(ctx context.Context, s remote.Session, spec *types.TopologySpec, report *HostReport) error {
	version := spec.EngineVersion
	logger := p.logger.With().Str("host", s.Host()).Str("version", version).Logger()

	report.Family = detectFamily(ctx, s)
	logger.Debug().Str("family", string(report.Family)).Msg("Detected package family")

	current, err := s.Run(ctx, versionCommand(spec), false)
	if err == nil && !current.Skipped && reportsVersion(current, version) {
		logger.Info().Msg("Engine already at target version, skipping build")
		return nil
	}

	for _, cmd := range prerequisiteCommands(report.Family) {
		if _, err := remote.RunChecked(ctx, s, cmd, true); err != nil {
			return fmt.Errorf("failed to install prerequisites: %w", err)
		}
	}

	userCmd := fmt.Sprintf("id -u %[1]s >/dev/null 2>&1 || useradd -r -s /sbin/nologin -M -U %[1]s", render.ServiceUser)
	if _, err := remote.RunChecked(ctx, s, userCmd, true); err != nil {
		return fmt.Errorf("failed to create service user: %w", err)
	}

	srcDir := path.Join(buildDir, "redis-"+version)
	tarball := "redis-" + version + ".tar.gz"
	buildCtx := remote.WithCommandTimeout(ctx, BuildTimeout)
	build := []string{
		fmt.Sprintf("mkdir -p %s && cd %s && rm -rf %s %s", buildDir, buildDir, srcDir, tarball),
		fmt.Sprintf("cd %s && wget -q %s/%s", buildDir, downloadURL, tarball),
		fmt.Sprintf("cd %s && tar xzf %s", buildDir, tarball),
		fmt.Sprintf(`cd %s && make -j"$(nproc)"`, srcDir),
		fmt.Sprintf("cd %s && make PREFIX=%s install", srcDir, remote.Quote(spec.Paths.InstallPrefix)),
	}
	for _, cmd := range build {
		if _, err := remote.RunChecked(buildCtx, s, cmd, true); err != nil {
			return err
		}
	}
	report.EngineInstalled = true

	res, err := remote.RunChecked(ctx, s, versionCommand(spec), false)
	if err != nil {
		return fmt.Errorf("failed to verify installed version: %w", err)
	}
	if !res.Skipped && !reportsVersion(res, version) {
		return fmt.Errorf("installed binary reports %q, want v=%s", strings.TrimSpace(res.Stdout), version)
	}

	logger.Info().Msg("Engine installed")
	return nil
}
