// Package environment maps the host a webhook was delivered to onto the
// deployment environment it belongs to.
package environment

import (
	"net"
	"sort"
	"strings"
)

// Environment names.
const (
	Test       = "test"
	Production = "production"
)

// Default branch and build-script identifiers.
const (
	DefaultTestBranch            = "dev"
	DefaultTestBuildScript       = "build:dev"
	DefaultProductionBranch      = "prod"
	DefaultProductionBuildScript = "build"
)

// Profile is the resolved {branch, build script} pair that decides which
// merges trigger a deploy and which build variant the script runs.
type Profile struct {
	Name        string `json:"name"`
	Branch      string `json:"branch"`
	BuildScript string `json:"build_script"`
}

// DefaultTestProfile returns the test profile used when none is configured.
func DefaultTestProfile() Profile {
	return Profile{Name: Test, Branch: DefaultTestBranch, BuildScript: DefaultTestBuildScript}
}

// DefaultProductionProfile returns the production profile used when none is configured.
func DefaultProductionProfile() Profile {
	return Profile{Name: Production, Branch: DefaultProductionBranch, BuildScript: DefaultProductionBuildScript}
}

// Resolver maps host names to profiles using a static allowlist of test
// hosts. It is immutable after construction and safe for concurrent use.
type Resolver struct {
	testHosts  map[string]struct{}
	test       Profile
	production Profile
}

// NewResolver creates a resolver. Hosts in testHosts resolve to test, every
// other host resolves to production.
func NewResolver(testHosts []string, test, production Profile) *Resolver {
	hosts := make(map[string]struct{}, len(testHosts))
	for _, h := range testHosts {
		if n := NormalizeHost(h); n != "" {
			hosts[n] = struct{}{}
		}
	}
	test.Name = Test
	production.Name = Production
	return &Resolver{testHosts: hosts, test: test, production: production}
}

// Resolve returns the profile for host. It never fails: unknown, empty or
// malformed hosts resolve to production.
func (r *Resolver) Resolve(host string) Profile {
	if _, ok := r.testHosts[NormalizeHost(host)]; ok {
		return r.test
	}
	return r.production
}

// Profiles returns the test and production profiles.
func (r *Resolver) Profiles() (test, production Profile) {
	return r.test, r.production
}

// TestHosts returns the normalized allowlist in sorted order.
func (r *Resolver) TestHosts() []string {
	hosts := make([]string, 0, len(r.testHosts))
	for h := range r.testHosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// NormalizeHost lower-cases host and strips surrounding whitespace, a port
// suffix and a trailing dot.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(h, ".")
}
