// Package render produces the files rcluster uploads to each host: instance
// configs and systemd units. Rendering is pure; nothing here touches a host.
package render

import (
	"bytes"
	"fmt"
	"path"
	"strconv"
	"text/template"

	"github.com/cuemby/rcluster/pkg/types"
)

// ServiceUser owns every instance process and its directories
const ServiceUser = "redis"

// NodeExporterUnit is the host-level exporter's unit name
const NodeExporterUnit = "node_exporter.service"

const redisConfTemplate = `# Managed by rcluster. Local changes are overwritten on deploy.
port {{ .Port }}
protected-mode no
daemonize no
supervised systemd

cluster-enabled yes
cluster-config-file nodes-{{ .Port }}.conf
cluster-node-timeout 5000
cluster-require-full-coverage yes

dir {{ .DataDir }}
pidfile /var/run/redis-{{ .Port }}.pid
logfile {{ .LogFile }}

tcp-keepalive 300
tcp-backlog 511
timeout 0

maxmemory-policy allkeys-lru
lazyfree-lazy-eviction yes
lazyfree-lazy-expire yes
lazyfree-lazy-server-del yes

{{ if .P.AOF -}}
appendonly yes
appendfsync {{ .P.AOFFsync }}
auto-aof-rewrite-percentage {{ .P.AOFRewritePercentage }}
auto-aof-rewrite-min-size {{ .P.AOFRewriteMinSize }}
aof-load-truncated yes
aof-use-rdb-preamble yes
{{- else -}}
appendonly no
{{- end }}

{{ if .P.RDB -}}
{{ range .P.RDBSave }}save {{ . }}
{{ end -}}
rdbcompression {{ yesno .P.RDBCompression }}
rdbchecksum {{ yesno .P.RDBChecksum }}
stop-writes-on-bgsave-error yes
{{- else -}}
save ""
{{- end }}

loglevel notice
syslog-enabled yes
syslog-ident redis-{{ .Port }}
syslog-facility local0

hz 10
dynamic-hz yes
rdb-save-incremental-fsync yes
`

const redisUnitTemplate = `[Unit]
Description=Redis Instance {{ .Port }}
After=network.target

[Service]
User={{ .User }}
Group={{ .User }}
ExecStart={{ .Prefix }}/bin/redis-server {{ .ConfPath }}
ExecStop={{ .Prefix }}/bin/redis-cli -p {{ .Port }} shutdown
Restart=always
LimitNOFILE=65535

[Install]
WantedBy=multi-user.target
`

const nodeExporterUnitTemplate = `[Unit]
Description=Prometheus Node Exporter
After=network.target

[Service]
User=root
ExecStart={{ .Prefix }}/bin/node_exporter --web.listen-address=:{{ .ListenPort }}
Restart=always

[Install]
WantedBy=multi-user.target
`

const redisExporterUnitTemplate = `[Unit]
Description=Redis Exporter {{ .Port }}
After=network.target redis-{{ .Port }}.service

[Service]
User=root
ExecStart={{ .Prefix }}/bin/redis_exporter --redis.addr=redis://127.0.0.1:{{ .Port }} --web.listen-address=:{{ .ListenPort }}
Restart=always

[Install]
WantedBy=multi-user.target
`

var funcs = template.FuncMap{
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}

var (
	redisConfTmpl         = template.Must(template.New("redisconf").Funcs(funcs).Parse(redisConfTemplate))
	redisUnitTmpl         = template.Must(template.New("redisunit").Parse(redisUnitTemplate))
	nodeExporterUnitTmpl  = template.Must(template.New("nodeexporterunit").Parse(nodeExporterUnitTemplate))
	redisExporterUnitTmpl = template.Must(template.New("redisexporterunit").Parse(redisExporterUnitTemplate))
)

type instanceData struct {
	Port       int
	ListenPort int
	User       string
	Prefix     string
	ConfPath   string
	DataDir    string
	LogFile    string
	P          types.PersistenceSpec
}

func newInstanceData(spec *types.TopologySpec, port int) instanceData {
	return instanceData{
		Port:     port,
		User:     ServiceUser,
		Prefix:   spec.Paths.InstallPrefix,
		ConfPath: ConfPath(spec, port),
		DataDir:  DataDir(spec, port),
		LogFile:  path.Join(spec.Paths.LogDir, "redis-"+strconv.Itoa(port)+".log"),
		P:        spec.Persistence,
	}
}

// RedisConf renders the instance configuration for port
func RedisConf(spec *types.TopologySpec, port int) ([]byte, error) {
	return execute(redisConfTmpl, newInstanceData(spec, port))
}

// RedisUnit renders the systemd unit running the instance on port
func RedisUnit(spec *types.TopologySpec, port int) ([]byte, error) {
	return execute(redisUnitTmpl, newInstanceData(spec, port))
}

// NodeExporterUnitFile renders the host-level exporter unit
func NodeExporterUnitFile(spec *types.TopologySpec) ([]byte, error) {
	return execute(nodeExporterUnitTmpl, instanceData{
		Prefix:     spec.Paths.InstallPrefix,
		ListenPort: spec.Observability.NodeExporterPort,
	})
}

// RedisExporterUnitFile renders the exporter unit scraping the instance on port
func RedisExporterUnitFile(spec *types.TopologySpec, port int) ([]byte, error) {
	data := newInstanceData(spec, port)
	data.ListenPort = ExporterPort(spec, port)
	return execute(redisExporterUnitTmpl, data)
}

func execute(tmpl *template.Template, data instanceData) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}
