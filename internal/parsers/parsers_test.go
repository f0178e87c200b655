package parsers

import (
	"strings"
	"testing"
)

const nmapXMLFixture = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sV -oX scan.xml 10.0.0.5" start="1750000000" version="7.94">
<host>
<status state="up" reason="syn-ack"/>
<address addr="10.0.0.5" addrtype="ipv4"/>
<hostnames><hostname name="web.acme.lan" type="PTR"/></hostnames>
<ports>
<port protocol="tcp" portid="80">
<state state="open" reason="syn-ack" reason_ttl="64"/>
<service name="http" product="nginx" version="1.24.0" method="probed" conf="10"/>
</port>
<port protocol="tcp" portid="22">
<state state="open" reason="syn-ack" reason_ttl="64"/>
<service name="ssh" product="OpenSSH" version="9.6" method="probed" conf="10"/>
</port>
<port protocol="tcp" portid="443">
<state state="closed" reason="reset" reason_ttl="64"/>
</port>
</ports>
</host>
<host>
<status state="down" reason="no-response"/>
<address addr="10.0.0.6" addrtype="ipv4"/>
</host>
<runstats><finished time="1750000060" elapsed="60"/><hosts up="1" down="1" total="2"/></runstats>
</nmaprun>`

func TestNmapParse(t *testing.T) {
	p := NewNmapPlugin()
	res, err := p.Parse("pt", []byte(nmapXMLFixture), "nmap -sV -oX scan.xml 10.0.0.5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var hosts, ports int
	for _, target := range res.Targets {
		switch {
		case target.Host != nil:
			hosts++
			if target.Host.IP != "10.0.0.5" {
				t.Errorf("host IP = %q, want 10.0.0.5", target.Host.IP)
			}
			if target.Host.Infos["hostname"] != "web.acme.lan" {
				t.Errorf("host hostname = %q, want web.acme.lan", target.Host.Infos["hostname"])
			}
		case target.Port != nil:
			ports++
			if target.Port.Proto != "tcp" {
				t.Errorf("port proto = %q, want tcp", target.Port.Proto)
			}
		}
	}
	if hosts != 1 {
		t.Errorf("parsed %d hosts, want 1 (down host must be skipped)", hosts)
	}
	if ports != 2 {
		t.Errorf("parsed %d ports, want 2 (closed port must be skipped)", ports)
	}

	for _, target := range res.Targets {
		if target.Port != nil && target.Port.Port == "80" {
			if target.Port.Service != "http" {
				t.Errorf("port 80 service = %q, want http", target.Port.Service)
			}
			if target.Port.Product != "nginx 1.24.0" {
				t.Errorf("port 80 product = %q, want nginx 1.24.0", target.Port.Product)
			}
		}
	}

	if !strings.Contains(res.Notes, "10.0.0.5 is up") {
		t.Errorf("notes missing host line: %q", res.Notes)
	}
	if len(res.Tags) == 0 {
		t.Error("open ports found but no tags attached")
	}
}

func TestNmapParse_InvalidXML(t *testing.T) {
	p := NewNmapPlugin()
	if _, err := p.Parse("pt", []byte("not xml at all"), ""); err == nil {
		t.Error("invalid XML parsed without error")
	}
}

func TestChangeCommand(t *testing.T) {
	p := NewNmapPlugin()

	got := p.ChangeCommand("nmap -sV 10.0.0.5", "/results/pt", "tool-1")
	want := "nmap -sV 10.0.0.5 -oX /results/pt/tool-1.xml"
	if got != want {
		t.Errorf("ChangeCommand = %q, want %q", got, want)
	}

	// A command that already routes its output is left alone.
	preset := "nmap -sV -oX /tmp/out.xml 10.0.0.5"
	if got := p.ChangeCommand(preset, "/results/pt", "tool-1"); got != preset {
		t.Errorf("ChangeCommand rewrote preset output: %q", got)
	}
}

func TestFileOutputPath(t *testing.T) {
	p := NewNmapPlugin()

	if got := p.FileOutputPath("nmap -sV 10.0.0.5 -oX /results/pt/tool-1.xml"); got != "/results/pt/tool-1.xml" {
		t.Errorf("FileOutputPath = %q", got)
	}
	if got := p.FileOutputPath("nmap -sV -oX /tmp/out.xml 10.0.0.5"); got != "/tmp/out.xml" {
		t.Errorf("FileOutputPath mid-command = %q", got)
	}
	if got := p.FileOutputPath("nmap -sV 10.0.0.5"); got != "" {
		t.Errorf("FileOutputPath without arg = %q, want empty", got)
	}
}

func TestDetectCmdline(t *testing.T) {
	p := NewNmapPlugin()

	cases := []struct {
		cmd  string
		want bool
	}{
		{"nmap -sV 10.0.0.5", true},
		{"/usr/bin/nmap -sV 10.0.0.5", true},
		{"masscan -p80 10.0.0.0/24", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := p.DetectCmdline(tc.cmd); got != tc.want {
			t.Errorf("DetectCmdline(%q) = %v, want %v", tc.cmd, got, tc.want)
		}
	}
}

func TestRegistryDetectOrder(t *testing.T) {
	r := NewDefaultRegistry()

	name, _, ok := r.Detect("nmap -sV 10.0.0.5")
	if !ok || name != "nmap" {
		t.Errorf("Detect(nmap cmdline) = %q ok=%v, want nmap", name, ok)
	}

	// Unknown commands are not claimed; ingest falls back to default.
	if _, _, ok := r.Detect("masscan -p80 10.0.0.0/24"); ok {
		t.Error("Detect claimed an unknown command")
	}

	if _, ok := r.Get(DefaultPluginName); !ok {
		t.Error("default parser missing from registry")
	}
	if err := r.Register("nmap", NewNmapPlugin()); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestDefaultPluginParse(t *testing.T) {
	p := NewDefaultPlugin()
	res, err := p.Parse("pt", []byte("raw tool output"), "whatever")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Notes != "raw tool output" {
		t.Errorf("Notes = %q, want raw passthrough", res.Notes)
	}
	if len(res.Targets) != 0 {
		t.Errorf("default parser produced %d targets, want 0", len(res.Targets))
	}
	if p.DetectCmdline("anything") {
		t.Error("default parser must never claim a command")
	}
}
