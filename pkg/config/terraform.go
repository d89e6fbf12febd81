package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// terraformOutput runs `terraform output -json` in dir
var terraformOutput = func(ctx context.Context, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "terraform", "output", "-json")
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("terraform output in %s: %w: %s", dir, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// TerraformNodes reads the instance addresses exported by the Terraform
// state in dir
func TerraformNodes(ctx context.Context, dir string) ([]string, error) {
	out, err := terraformOutput(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read terraform inventory: %w", err)
	}
	nodes, err := NodesFromOutputs(out)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("terraform state in %s exports no redis_private_ips", dir)
	}
	return nodes, nil
}

// NodesFromOutputs extracts redis_private_ips, or redis_private_ips_v4 when
// the first is absent, from `terraform output -json`
func NodesFromOutputs(data []byte) ([]string, error) {
	var outputs map[string]struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to decode terraform outputs: %w", err)
	}

	for _, key := range []string{"redis_private_ips", "redis_private_ips_v4"} {
		out, ok := outputs[key]
		if !ok || len(out.Value) == 0 {
			continue
		}
		var ips []string
		if err := json.Unmarshal(out.Value, &ips); err != nil {
			return nil, fmt.Errorf("terraform output %s is not a list of strings: %w", key, err)
		}
		nodes := ips[:0]
		for _, ip := range ips {
			if ip != "" {
				nodes = append(nodes, ip)
			}
		}
		if len(nodes) > 0 {
			return nodes, nil
		}
	}
	return nil, nil
}
