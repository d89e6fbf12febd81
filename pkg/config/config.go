// Package config loads topology files.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vrischmann/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/rcluster/pkg/types"
)

// Defaults returns a topology with every optional field filled in
func Defaults() types.TopologySpec {
	return types.TopologySpec{
		Cluster: types.ClusterSpec{Create: true},
		Persistence: types.PersistenceSpec{
			Mode:                 types.PersistenceAOF,
			AOFFsync:             "everysec",
			RDBSave:              []string{"900 1", "300 10", "60 10000"},
			AOFRewritePercentage: 100,
			AOFRewriteMinSize:    "64mb",
			RDBCompression:       true,
			RDBChecksum:          true,
		},
		Paths: types.PathsSpec{
			InstallPrefix: "/usr/local",
			ConfigDir:     "/etc/redis",
			DataDir:       "/var/lib/redis",
			LogDir:        "/var/log/redis",
			UnitDir:       "/etc/systemd/system",
		},
		EngineVersion: "7.2.5",
		SystemPrep: types.SystemPrepSpec{
			DisableSwap:         true,
			Swappiness:          1,
			ConfigureOvercommit: true,
		},
		Observability: types.ObservabilitySpec{
			NodeExporter:          true,
			RedisExporter:         true,
			NodeExporterVersion:   "1.8.2",
			RedisExporterVersion:  "1.58.0",
			NodeExporterPort:      9100,
			RedisExporterPortBase: 9121,
			Grafana: types.GrafanaSpec{
				APITokenEnv:    "GRAFANA_API_TOKEN",
				DatasourceName: "Prometheus",
			},
		},
		Platform: types.PlatformSpec{Kind: types.PlatformBaremetal},
		SSH: types.SSHSpec{
			Port:              22,
			Timeout:           30,
			ConnectionRetries: 3,
			RetryBaseDelay:    time.Second,
			RetryMultiplier:   2,
			Sudo:              true,
		},
	}
}

// file is the on-disk layout. The top-level disable_swap switch is an
// older spelling that can only turn system prep off.
type file struct {
	types.TopologySpec `yaml:",inline"`
	DisableSwap        *bool `yaml:"disable_swap"`
}

// sshEnv holds the credential overrides read from the environment
type sshEnv struct {
	User     string `envconfig:"REDIS_DEPLOY_SSH_USER,optional"`
	Port     int    `envconfig:"REDIS_DEPLOY_SSH_PORT,optional"`
	Password string `envconfig:"REDIS_DEPLOY_SSH_PASSWORD,optional"`
	Key      string `envconfig:"REDIS_DEPLOY_SSH_KEY,optional"`
}

// Load reads, completes and validates the topology at path. SSH
// credentials missing from the file are taken from REDIS_DEPLOY_SSH_*,
// and an aws-ec2 topology without nodes is filled from Terraform outputs.
func Load(ctx context.Context, path string) (*types.TopologySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if len(spec.Nodes) == 0 && spec.Platform.Kind == types.PlatformAWSEC2 && spec.Platform.TFStatePath != "" {
		nodes, err := TerraformNodes(ctx, resolve(path, spec.Platform.TFStatePath))
		if err != nil {
			return nil, err
		}
		spec.Nodes = nodes
	}

	if err := spec.Validate(false); err != nil {
		return nil, err
	}
	return spec, nil
}

// Parse decodes a topology document over Defaults and the environment.
// It does not validate.
func Parse(data []byte) (*types.TopologySpec, error) {
	doc := file{TopologySpec: Defaults()}
	if err := applyEnv(&doc.SSH); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}

	if doc.DisableSwap != nil && !*doc.DisableSwap {
		doc.SystemPrep.DisableSwap = false
	}
	doc.SSH.PrivateKey = expandHome(doc.SSH.PrivateKey)
	doc.SSH.KnownHostsFile = expandHome(doc.SSH.KnownHostsFile)
	if doc.SSH.StrictHostKeyChecking && doc.SSH.KnownHostsFile == "" {
		doc.SSH.KnownHostsFile = expandHome("~/.ssh/known_hosts")
	}

	spec := doc.TopologySpec
	return &spec, nil
}

func applyEnv(ssh *types.SSHSpec) error {
	var env sshEnv
	if err := envconfig.Init(&env); err != nil {
		return fmt.Errorf("failed to read ssh environment: %w", err)
	}
	if env.User != "" {
		ssh.User = env.User
	}
	if env.Port != 0 {
		ssh.Port = env.Port
	}
	if env.Password != "" {
		ssh.Password = env.Password
	}
	if env.Key != "" {
		ssh.PrivateKey = env.Key
	}
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// resolve interprets rel against the directory of the topology file
func resolve(topologyPath, rel string) string {
	rel = expandHome(rel)
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(filepath.Dir(topologyPath), rel)
}
