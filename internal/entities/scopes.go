package entities

import (
	"net"
	"strings"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// Resolver turns a DNS name into addresses. Injected so scope evaluation
// stays deterministic in tests; defaults to net.LookupHost.
type Resolver func(host string) ([]string, error)

func defaultResolver(host string) ([]string, error) {
	return net.LookupHost(host)
}

// ScopeEvaluator computes which scopes a host address belongs to.
type ScopeEvaluator struct {
	Resolve Resolver
}

// NewScopeEvaluator returns an evaluator using the system resolver.
func NewScopeEvaluator() *ScopeEvaluator {
	return &ScopeEvaluator{Resolve: defaultResolver}
}

// InScopes returns the ids of the scopes the address matches under the
// engagement settings. The result is a strict function of
// (address, scopes, settings).
func (e *ScopeEvaluator) InScopes(address string, scopes []models.Scope, settings models.Settings) []string {
	matched := []string{}
	for _, sc := range scopes {
		if e.fits(address, sc.Scope, settings) {
			matched = append(matched, sc.ID)
		}
	}
	return matched
}

// fits reports whether the address matches one scope string.
func (e *ScopeEvaluator) fits(address, scope string, settings models.Settings) bool {
	addrIsIP := net.ParseIP(address) != nil

	if _, cidr, err := net.ParseCIDR(scope); err == nil {
		if addrIsIP {
			return cidr.Contains(net.ParseIP(address))
		}
		// A domain fits a network scope only when resolution is allowed
		// and one of its addresses lands inside.
		if settings.IncludeDomainsWithIPInScope && e.Resolve != nil {
			addrs, err := e.Resolve(address)
			if err != nil {
				return false
			}
			for _, a := range addrs {
				if ip := net.ParseIP(a); ip != nil && cidr.Contains(ip) {
					return true
				}
			}
		}
		return false
	}

	if scopeIP := net.ParseIP(scope); scopeIP != nil {
		if addrIsIP {
			return scopeIP.Equal(net.ParseIP(address))
		}
		if settings.IncludeDomainsWithIPInScope && e.Resolve != nil {
			addrs, err := e.Resolve(address)
			if err != nil {
				return false
			}
			for _, a := range addrs {
				if ip := net.ParseIP(a); ip != nil && scopeIP.Equal(ip) {
					return true
				}
			}
		}
		return false
	}

	// Domain scope. IP addresses never match a domain scope directly.
	if addrIsIP {
		return false
	}
	return domainFits(address, scope, settings)
}

// domainFits applies the engagement's domain-inclusion rules.
func domainFits(domain, scopeDomain string, settings models.Settings) bool {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	scopeDomain = strings.ToLower(strings.TrimSuffix(scopeDomain, "."))

	if settings.IncludeAllDomains {
		return true
	}
	if domain == scopeDomain {
		return true
	}
	// The topdomain rule only fires for a real parent domain. A bare TLD
	// scope ("com") would otherwise swallow every host under it.
	if settings.IncludeDomainsWithTopdomainInScope &&
		strings.Contains(scopeDomain, ".") &&
		strings.HasSuffix(domain, "."+scopeDomain) {
		return true
	}
	return false
}
