package types

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInsufficientCapacity is returned when the topology cannot host the
// requested primaries and replicas under the anti-affinity rule.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

var validate = validator.New()

func init() {
	// Report field names the way they appear in the topology file.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// Endpoint identifies one engine instance
type Endpoint struct {
	Host string
	Port int
}

// String renders the endpoint as host:port
func (e Endpoint) String() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

// TopologySpec is the validated description of a deployment. It is built
// once from the topology file and never mutated afterwards.
type TopologySpec struct {
	Nodes         []string          `yaml:"nodes" validate:"required,min=1,unique,dive,required"`
	Ports         PortsSpec         `yaml:"ports"`
	Cluster       ClusterSpec       `yaml:"cluster"`
	Persistence   PersistenceSpec   `yaml:"persistence"`
	Paths         PathsSpec         `yaml:"paths"`
	EngineVersion string            `yaml:"redis_version" validate:"required"`
	SystemPrep    SystemPrepSpec    `yaml:"swap_management"`
	Observability ObservabilitySpec `yaml:"observability"`
	Platform      PlatformSpec      `yaml:"platform"`
	SSH           SSHSpec           `yaml:"ssh"`
}

// PortsSpec describes the contiguous port range used on every host
type PortsSpec struct {
	Base         int `yaml:"base" validate:"gte=1024,lte=65500"`
	CountPerHost int `yaml:"count_per_host" validate:"gt=0"`
}

// ClusterSpec holds the desired role counts
type ClusterSpec struct {
	Primaries          int  `yaml:"masters" validate:"gt=0"`
	ReplicasPerPrimary int  `yaml:"replicas_per_master" validate:"gte=0"`
	Create             bool `yaml:"create"`
}

// PersistenceMode selects the durability strategy written to instance configs
type PersistenceMode string

const (
	PersistenceAOF  PersistenceMode = "aof"
	PersistenceRDB  PersistenceMode = "rdb"
	PersistenceBoth PersistenceMode = "both"
	PersistenceNone PersistenceMode = "none"
)

// PersistenceSpec holds AOF and RDB settings
type PersistenceSpec struct {
	Mode                 PersistenceMode `yaml:"mode" validate:"oneof=aof rdb both none"`
	AOFFsync             string          `yaml:"aof_fsync" validate:"oneof=always everysec no"`
	RDBSave              []string        `yaml:"rdb_save"`
	AOFRewritePercentage int             `yaml:"aof_rewrite_perc" validate:"gte=0"`
	AOFRewriteMinSize    string          `yaml:"aof_rewrite_min_size" validate:"required"`
	RDBCompression       bool            `yaml:"rdb_compression"`
	RDBChecksum          bool            `yaml:"rdb_checksum"`
}

// AOF reports whether append-only persistence is enabled
func (p PersistenceSpec) AOF() bool {
	return p.Mode == PersistenceAOF || p.Mode == PersistenceBoth
}

// RDB reports whether snapshot persistence is enabled
func (p PersistenceSpec) RDB() bool {
	return p.Mode == PersistenceRDB || p.Mode == PersistenceBoth
}

// PathsSpec is the on-host filesystem layout
type PathsSpec struct {
	InstallPrefix string `yaml:"install_prefix" validate:"required,startswith=/"`
	ConfigDir     string `yaml:"config_dir" validate:"required,startswith=/"`
	DataDir       string `yaml:"data_dir" validate:"required,startswith=/"`
	LogDir        string `yaml:"log_dir" validate:"required,startswith=/"`
	UnitDir       string `yaml:"unit_dir" validate:"required,startswith=/"`
}

// SystemPrepSpec gates the kernel tuning step
type SystemPrepSpec struct {
	DisableSwap         bool `yaml:"disable_permanently"`
	Swappiness          int  `yaml:"set_swappiness" validate:"gte=0,lte=100"`
	ConfigureOvercommit bool `yaml:"configure_overcommit"`
}

// ObservabilitySpec gates exporter installation and dashboard provisioning
type ObservabilitySpec struct {
	NodeExporter          bool        `yaml:"enable_node_exporter"`
	RedisExporter         bool        `yaml:"enable_redis_exporter"`
	NodeExporterVersion   string      `yaml:"exporter_version_node"`
	RedisExporterVersion  string      `yaml:"exporter_version_redis"`
	NodeExporterPort      int         `yaml:"node_exporter_port" validate:"gt=0,lte=65535"`
	RedisExporterPortBase int         `yaml:"redis_exporter_port_base" validate:"gt=0,lte=65500"`
	FailOnError           bool        `yaml:"fail_on_error"`
	Grafana               GrafanaSpec `yaml:"grafana"`
}

// GrafanaSpec configures dashboard provisioning
type GrafanaSpec struct {
	Enabled             bool     `yaml:"enabled"`
	URL                 string   `yaml:"url" validate:"omitempty,url"`
	APITokenEnv         string   `yaml:"api_token_env"`
	DatasourceName      string   `yaml:"datasource_name"`
	ProvisionDashboards bool     `yaml:"provision_dashboards"`
	DashboardFiles      []string `yaml:"dashboard_files"`
}

// PlatformKind names where the hosts run
type PlatformKind string

const (
	PlatformBaremetal PlatformKind = "baremetal"
	PlatformAWSEC2    PlatformKind = "aws-ec2"
	PlatformEKS       PlatformKind = "eks"
)

// PlatformSpec carries inventory discovery hints
type PlatformSpec struct {
	Kind        PlatformKind `yaml:"kind" validate:"oneof=baremetal aws-ec2 eks"`
	TFStatePath string       `yaml:"tf_state_path"`
}

// SSHSpec is the remote access policy
type SSHSpec struct {
	User                  string        `yaml:"user"`
	Port                  int           `yaml:"port" validate:"gt=0,lte=65535"`
	Password              string        `yaml:"password"`
	PrivateKey            string        `yaml:"private_key"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking"`
	KnownHostsFile        string        `yaml:"known_hosts_file"`
	Timeout               int           `yaml:"timeout" validate:"gt=0"`
	ConnectionRetries     int           `yaml:"connection_retries" validate:"gte=1"`
	RetryBaseDelay        time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	RetryMultiplier       float64       `yaml:"retry_multiplier" validate:"gte=1"`
	Sudo                  bool          `yaml:"sudo"`
}

// TimeoutDuration returns the per-call timeout
func (s SSHSpec) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// TotalInstances is the number of endpoints the topology enumerates
func (t *TopologySpec) TotalInstances() int {
	return len(t.Nodes) * t.Ports.CountPerHost
}

// RequiredInstances is the number of endpoints the requested roles consume
func (t *TopologySpec) RequiredInstances() int {
	return t.Cluster.Primaries * (1 + t.Cluster.ReplicasPerPrimary)
}

// ExpectedReplicas is the total replica count across all primaries
func (t *TopologySpec) ExpectedReplicas() int {
	return t.Cluster.Primaries * t.Cluster.ReplicasPerPrimary
}

// HostPorts returns the local ports every host runs, in ascending order
func (t *TopologySpec) HostPorts() []int {
	ports := make([]int, 0, t.Ports.CountPerHost)
	for i := 0; i < t.Ports.CountPerHost; i++ {
		ports = append(ports, t.Ports.Base+i)
	}
	return ports
}

// Endpoints enumerates every endpoint host-major, port-minor
func (t *TopologySpec) Endpoints() []Endpoint {
	endpoints := make([]Endpoint, 0, t.TotalInstances())
	for _, host := range t.Nodes {
		for _, port := range t.HostPorts() {
			endpoints = append(endpoints, Endpoint{Host: host, Port: port})
		}
	}
	return endpoints
}

// Validate checks field constraints and the capacity invariant. When
// strictSSH is set, usable SSH credentials are required as well.
func (t *TopologySpec) Validate(strictSSH bool) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid topology: %w", formatValidationErrors(err))
	}

	if t.Ports.Base+t.Ports.CountPerHost >= 65535 {
		return fmt.Errorf("invalid topology: ports.count_per_host %d overflows base %d", t.Ports.CountPerHost, t.Ports.Base)
	}
	if t.Observability.Grafana.Enabled && t.Observability.Grafana.URL == "" {
		return fmt.Errorf("invalid topology: observability.grafana.url is required when grafana is enabled")
	}
	if t.Cluster.Primaries > t.TotalInstances() {
		return fmt.Errorf("%w: %d primaries requested but only %d instances available",
			ErrInsufficientCapacity, t.Cluster.Primaries, t.TotalInstances())
	}
	if t.RequiredInstances() > t.TotalInstances() {
		return fmt.Errorf("%w: %d primaries with %d replicas each need %d instances, %d available",
			ErrInsufficientCapacity, t.Cluster.Primaries, t.Cluster.ReplicasPerPrimary,
			t.RequiredInstances(), t.TotalInstances())
	}

	if strictSSH {
		if err := t.SSH.ValidateCredentials(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCredentials requires a user and one authentication method
func (s SSHSpec) ValidateCredentials() error {
	if s.User == "" {
		return fmt.Errorf("ssh user must be set in the topology file or REDIS_DEPLOY_SSH_USER")
	}
	if s.Password == "" && s.PrivateKey == "" {
		return fmt.Errorf("either an ssh password or a private key must be set")
	}
	if s.PrivateKey != "" {
		if _, err := os.Stat(s.PrivateKey); err != nil {
			return fmt.Errorf("ssh private key not readable: %w", err)
		}
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// PlacementResult is the role assignment computed from a TopologySpec
type PlacementResult struct {
	Primaries  []Endpoint
	ReplicasOf map[Endpoint][]Endpoint
}

// Replicas returns every replica endpoint in primary order
func (p *PlacementResult) Replicas() []Endpoint {
	var replicas []Endpoint
	for _, primary := range p.Primaries {
		replicas = append(replicas, p.ReplicasOf[primary]...)
	}
	return replicas
}

// String summarises the assignment one primary per line
func (p *PlacementResult) String() string {
	var b strings.Builder
	for _, primary := range p.Primaries {
		b.WriteString(primary.String())
		replicas := p.ReplicasOf[primary]
		if len(replicas) > 0 {
			names := make([]string, len(replicas))
			for i, r := range replicas {
				names[i] = r.String()
			}
			b.WriteString(" <- ")
			b.WriteString(strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// HealthVerdict is the outcome of probing one endpoint
type HealthVerdict string

const (
	VerdictHealthy     HealthVerdict = "healthy"
	VerdictUnreachable HealthVerdict = "unreachable"
	VerdictUnhealthy   HealthVerdict = "unhealthy"
)

// EndpointHealth is the probe outcome for one endpoint
type EndpointHealth struct {
	Endpoint Endpoint
	Verdict  HealthVerdict
	Reason   string
}

// ValidationReport is the result of one validation pass
type ValidationReport struct {
	Endpoints         []EndpointHealth
	ClusterState      string
	ExpectedPrimaries int
	ExpectedReplicas  int
	ObservedPrimaries int
	ObservedReplicas  int
	DryRun            bool
	CheckedAt         time.Time
}

// Unhealthy returns the endpoints whose verdict is not healthy
func (r *ValidationReport) Unhealthy() []EndpointHealth {
	var out []EndpointHealth
	for _, eh := range r.Endpoints {
		if eh.Verdict != VerdictHealthy {
			out = append(out, eh)
		}
	}
	return out
}
