package proxy

import (
	"strings"

	"github.com/artpar/reflow/internal/core/domain"
)

// RouteTable maps a normalized hostname to its environment.
type RouteTable map[string]ProxyTarget

// BuildRoutes computes the route table from every project and the stored
// state of its environments. When two environments claim the same hostname
// the first in project order wins.
func BuildRoutes(projects []domain.Project, states []domain.EnvironmentState, baseDomain string) RouteTable {
	byKey := make(map[string]domain.EnvironmentState, len(states))
	for _, s := range states {
		byKey[s.ProjectName+"/"+string(s.Environment)] = s
	}

	routes := make(RouteTable, len(projects)*2)
	for i := range projects {
		p := &projects[i]
		for _, env := range domain.Environments() {
			host := NormalizeHost(domain.EffectiveDomain(p.Name, env, p.EnvConfig(env).Domain, baseDomain))
			if host == "" {
				continue
			}
			if _, taken := routes[host]; taken {
				continue
			}
			target := ProxyTarget{Project: p.Name, Environment: env}
			if s, ok := byKey[p.Name+"/"+string(env)]; ok && s.IsActive() {
				target.Slot = s.ActiveSlot
				target.Commit = s.ActiveCommit
				target.Port = s.HostPort
			}
			routes[host] = target
		}
	}
	return routes
}

// Lookup finds the target of a Host header value.
func (rt RouteTable) Lookup(host string) (ProxyTarget, bool) {
	t, ok := rt[NormalizeHost(host)]
	return t, ok
}

// Resolve returns the routable target of a Host header value, or the reason
// the request cannot be forwarded.
func (rt RouteTable) Resolve(host string) (ProxyTarget, *RouteError) {
	hostname := NormalizeHost(host)
	t, ok := rt[hostname]
	if !ok {
		return ProxyTarget{}, NotFound(hostname)
	}
	if !t.CanRoute() {
		return t, Stopped(hostname, t)
	}
	return t, nil
}

// NormalizeHost lowercases a host and strips a trailing port or dot.
// "Demo.Apps.Local:8080" → "demo.apps.local"
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Check if everything after colon looks like a port
		potentialPort := host[idx+1:]
		isPort := len(potentialPort) > 0
		for _, c := range potentialPort {
			if c < '0' || c > '9' {
				isPort = false
				break
			}
		}
		if isPort {
			host = host[:idx]
		}
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
