package entities

import (
	"testing"

	"github.com/fbarre96/pollenisator/pkg/models"
)

func TestResolveCommand(t *testing.T) {
	cc := CommandContext{
		Wave:  "external",
		Scope: "10.0.0.0/24",
		IP:    "10.0.0.5",
		Port: &models.Port{
			Port: "443", Proto: "tcp", Service: "https", Product: "nginx 1.24",
			Infos: map[string]string{"banner": "nginx"},
		},
		Tool: &models.Tool{Infos: map[string]string{"outdir": "/tmp/scan"}},
	}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"basic target", "nmap -p |port| |ip|", "nmap -p 443 10.0.0.5"},
		{"service and product", "probe |port.service| (|port.product|)", "probe https (nginx 1.24)"},
		{"wave and scope", "scan |wave| over |scope|", "scan external over 10.0.0.0/24"},
		{"infos lookups", "save |port.infos.banner| to |tool.infos.outdir|", "save nginx to /tmp/scan"},
		{"unknown placeholder kept", "run |no.such.var| now", "run |no.such.var| now"},
		{"no placeholders", "whoami", "whoami"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveCommand(tc.in, cc); got != tc.want {
				t.Errorf("ResolveCommand(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestResolveCommand_UserAndHostPlaceholders(t *testing.T) {
	cc := CommandContext{
		IP:   "10.0.0.5",
		Host: &models.Host{IP: "10.0.0.5", Infos: map[string]string{"hostname": "web01"}},
		User: &models.User{Domain: "corp.local", Username: "jdoe", Password: "Winter2025!"},
	}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"credential triple", "nxc smb |ip| -d |domain| -u |username| -p |password|", "nxc smb 10.0.0.5 -d corp.local -u jdoe -p Winter2025!"},
		{"host infos lookup", "ping |ip.infos.hostname|", "ping web01"},
		{"missing host infos key kept", "ping |ip.infos.fqdn|", "ping |ip.infos.fqdn|"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveCommand(tc.in, cc); got != tc.want {
				t.Errorf("ResolveCommand(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	// Without a user in context the credential tokens stay visible.
	got := ResolveCommand("-u |username| -p |password|", CommandContext{IP: "10.0.0.5"})
	if got != "-u |username| -p |password|" {
		t.Errorf("got %q, want credential tokens preserved", got)
	}
}

func TestResolveCommand_MissingContextKeepsToken(t *testing.T) {
	// A port placeholder with no port in context stays visible.
	got := ResolveCommand("nmap -p |port| |ip|", CommandContext{IP: "10.0.0.5"})
	if got != "nmap -p |port| 10.0.0.5" {
		t.Errorf("got %q, want port token preserved", got)
	}
}
