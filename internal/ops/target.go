// Package ops implements the guardian: guarded service operations on the deploy targets
// of ops.environments. Every operation runs through Guardian.execute, which applies the
// rate limit, deadlock detection, a timeout, failure classification with automatic
// recovery, and a JSON-lines audit record.
package ops

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

// ErrUnknownTarget is returned when no environment matches a name or container id.
var ErrUnknownTarget = errors.New("unknown target")

// Target is one resolved deploy environment.
type Target struct {
	Name         string
	Host         string
	ContainerID  string
	Ports        map[string]int
	Services     []string
	AppDir       string
	HealthPaths  map[string]string
	DatabaseAddr string
}

// Endpoint is an HTTP health URL for one named port.
type Endpoint struct {
	Name string
	URL  string
}

// ResolveTarget finds an environment by name, then by container id.
func ResolveTarget(cfg config.OpsConfig, nameOrID string) (*Target, error) {
	if env, ok := cfg.Environments[nameOrID]; ok {
		return newTarget(nameOrID, env), nil
	}
	names := make([]string, 0, len(cfg.Environments))
	for name := range cfg.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if env := cfg.Environments[name]; env.ContainerID != "" && env.ContainerID == nameOrID {
			return newTarget(name, env), nil
		}
	}
	return nil, fmt.Errorf("%w: %q (configured: %v)", ErrUnknownTarget, nameOrID, names)
}

func newTarget(name string, env config.OpsEnvironment) *Target {
	return &Target{
		Name:         name,
		Host:         env.Host,
		ContainerID:  env.ContainerID,
		Ports:        env.Ports,
		Services:     env.Services,
		AppDir:       env.AppDir,
		HealthPaths:  env.HealthPaths,
		DatabaseAddr: env.DatabaseAddr,
	}
}

// Endpoints lists the health URLs of the target's ports, sorted by port name. A port
// without a configured path is checked at "/".
func (t *Target) Endpoints() []Endpoint {
	names := make([]string, 0, len(t.Ports))
	for name := range t.Ports {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Endpoint, 0, len(names))
	for _, name := range names {
		path := t.HealthPaths[name]
		if path == "" {
			path = "/"
		}
		out = append(out, Endpoint{
			Name: name,
			URL:  fmt.Sprintf("http://%s:%d%s", t.Host, t.Ports[name], path),
		})
	}
	return out
}

// portList returns the target's ports in a stable order.
func (t *Target) portList() []int {
	eps := t.Endpoints()
	ports := make([]int, 0, len(eps))
	for _, ep := range eps {
		ports = append(ports, t.Ports[ep.Name])
	}
	return ports
}
