package render

import (
	"fmt"
	"path"
	"strconv"

	"github.com/cuemby/rcluster/pkg/types"
)

// UnitName is the systemd unit of the instance on port
func UnitName(port int) string {
	return fmt.Sprintf("redis-%d.service", port)
}

// ExporterUnitName is the systemd unit of the exporter for the instance on port
func ExporterUnitName(port int) string {
	return fmt.Sprintf("redis_exporter_%d.service", port)
}

// ConfPath is where the instance config for port lives
func ConfPath(spec *types.TopologySpec, port int) string {
	return path.Join(spec.Paths.ConfigDir, "redis-"+strconv.Itoa(port)+".conf")
}

// UnitPath is where the instance unit for port lives
func UnitPath(spec *types.TopologySpec, port int) string {
	return path.Join(spec.Paths.UnitDir, UnitName(port))
}

// ExporterUnitPath is where the exporter unit for port lives
func ExporterUnitPath(spec *types.TopologySpec, port int) string {
	return path.Join(spec.Paths.UnitDir, ExporterUnitName(port))
}

// NodeExporterUnitPath is where the host-level exporter unit lives
func NodeExporterUnitPath(spec *types.TopologySpec) string {
	return path.Join(spec.Paths.UnitDir, NodeExporterUnit)
}

// DataDir is the working directory of the instance on port
func DataDir(spec *types.TopologySpec, port int) string {
	return path.Join(spec.Paths.DataDir, strconv.Itoa(port))
}

// ExporterPort is the port the exporter for the instance on port listens on
func ExporterPort(spec *types.TopologySpec, port int) int {
	return spec.Observability.RedisExporterPortBase + (port - spec.Ports.Base)
}
