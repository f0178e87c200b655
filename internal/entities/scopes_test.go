package entities

import (
	"testing"

	"github.com/fbarre96/pollenisator/pkg/models"
)

func evalScopes(t *testing.T, resolver Resolver) *ScopeEvaluator {
	t.Helper()
	e := NewScopeEvaluator()
	e.Resolve = resolver
	return e
}

func TestScopeEvaluator_CIDRAndIP(t *testing.T) {
	e := evalScopes(t, nil)
	scopes := []models.Scope{
		{ID: "net", Scope: "10.0.0.0/24"},
		{ID: "single", Scope: "192.168.1.5"},
		{ID: "host32", Scope: "172.16.0.1/32"},
	}
	settings := models.DefaultSettings()

	cases := []struct {
		address string
		want    []string
	}{
		{"10.0.0.42", []string{"net"}},
		{"10.0.1.42", nil},
		{"192.168.1.5", []string{"single"}},
		{"192.168.1.6", nil},
		{"172.16.0.1", []string{"host32"}},
		{"172.16.0.2", nil},
	}
	for _, tc := range cases {
		got := e.InScopes(tc.address, scopes, settings)
		if len(got) != len(tc.want) {
			t.Errorf("InScopes(%q) = %v, want %v", tc.address, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("InScopes(%q) = %v, want %v", tc.address, got, tc.want)
			}
		}
	}
}

func TestScopeEvaluator_DomainRules(t *testing.T) {
	scopes := []models.Scope{{ID: "dom", Scope: "example.com"}}

	e := evalScopes(t, nil)

	// Exact match always fits.
	if got := e.InScopes("example.com", scopes, models.Settings{}); len(got) != 1 {
		t.Errorf("exact domain: got %v, want [dom]", got)
	}
	// Sub-domain excluded by default.
	if got := e.InScopes("dev.example.com", scopes, models.Settings{}); len(got) != 0 {
		t.Errorf("subdomain without setting: got %v, want none", got)
	}
	// Sub-domain included when the topdomain setting is on.
	settings := models.Settings{IncludeDomainsWithTopdomainInScope: true}
	if got := e.InScopes("dev.example.com", scopes, settings); len(got) != 1 {
		t.Errorf("subdomain with topdomain setting: got %v, want [dom]", got)
	}
	// Suffix match must respect label boundaries.
	if got := e.InScopes("notexample.com", scopes, settings); len(got) != 0 {
		t.Errorf("label boundary: got %v, want none", got)
	}
	// A bare TLD scope never admits subdomains, even with the setting on.
	tldScopes := []models.Scope{{ID: "tld", Scope: "com"}}
	if got := e.InScopes("example.com", tldScopes, settings); len(got) != 0 {
		t.Errorf("tld scope with topdomain setting: got %v, want none", got)
	}
	if got := e.InScopes("com", tldScopes, settings); len(got) != 1 {
		t.Errorf("tld exact match: got %v, want [tld]", got)
	}
	// include_all_domains admits any domain.
	if got := e.InScopes("other.org", scopes, models.Settings{IncludeAllDomains: true}); len(got) != 1 {
		t.Errorf("include_all_domains: got %v, want [dom]", got)
	}
	// An IP never matches a domain scope.
	if got := e.InScopes("10.0.0.1", scopes, models.Settings{IncludeAllDomains: true}); len(got) != 0 {
		t.Errorf("ip against domain scope: got %v, want none", got)
	}
}

func TestScopeEvaluator_DomainResolution(t *testing.T) {
	scopes := []models.Scope{{ID: "net", Scope: "10.0.0.0/24"}}

	e := evalScopes(t, func(host string) ([]string, error) {
		if host == "in.example.com" {
			return []string{"10.0.0.9"}, nil
		}
		return []string{"203.0.113.7"}, nil
	})

	// Resolution only applies when the setting is on.
	if got := e.InScopes("in.example.com", scopes, models.Settings{}); len(got) != 0 {
		t.Errorf("resolution without setting: got %v, want none", got)
	}
	settings := models.Settings{IncludeDomainsWithIPInScope: true}
	if got := e.InScopes("in.example.com", scopes, settings); len(got) != 1 {
		t.Errorf("domain resolving into scope: got %v, want [net]", got)
	}
	if got := e.InScopes("out.example.com", scopes, settings); len(got) != 0 {
		t.Errorf("domain resolving outside scope: got %v, want none", got)
	}
}
