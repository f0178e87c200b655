package parsers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Ullaakut/nmap/v3"
	"github.com/fbarre96/pollenisator/pkg/models"
)

// NmapPlugin parses nmap XML output into hosts and ports.
type NmapPlugin struct{}

// NewNmapPlugin creates the nmap parser.
func NewNmapPlugin() *NmapPlugin {
	return &NmapPlugin{}
}

var _ Plugin = (*NmapPlugin)(nil)

func (p *NmapPlugin) DefaultBinaries() []string { return []string{"nmap"} }

func (p *NmapPlugin) FileOutputArg() string { return " -oX " }

func (p *NmapPlugin) FileOutputExt() string { return ".xml" }

func (p *NmapPlugin) ChangeCommand(cmd, outDir, toolName string) string {
	return appendOutputArg(p, cmd, outDir, toolName)
}

func (p *NmapPlugin) FileOutputPath(cmd string) string {
	return outputPathAfterArg(p, cmd)
}

func (p *NmapPlugin) DetectCmdline(cmd string) bool {
	return binaryMatches(p, cmd)
}

func (p *NmapPlugin) Tags() []string { return []string{"info-nmap"} }

// Parse reads an nmap XML run. Hosts that are up become Host targets; their
// open ports become Port targets carrying the detected service and product.
func (p *NmapPlugin) Parse(pentest string, data []byte, cmdline string) (*Result, error) {
	var run nmap.Run
	if err := nmap.Parse(data, &run); err != nil {
		return nil, fmt.Errorf("parse nmap xml: %w", err)
	}

	res := &Result{Lvl: "ip"}
	var notes strings.Builder
	openPorts := 0

	for _, h := range run.Hosts {
		if h.Status.State != "up" || len(h.Addresses) == 0 {
			continue
		}
		addr := h.Addresses[0].Addr
		host := &models.Host{Pentest: pentest, IP: addr}
		if len(h.Hostnames) > 0 {
			host.Infos = map[string]string{"hostname": h.Hostnames[0].Name}
		}
		res.Targets = append(res.Targets, Target{Host: host})
		fmt.Fprintf(&notes, "%s is up\n", addr)

		for _, port := range h.Ports {
			if port.State.State != "open" {
				continue
			}
			product := strings.TrimSpace(port.Service.Product + " " + port.Service.Version)
			res.Targets = append(res.Targets, Target{Port: &models.Port{
				Pentest: pentest,
				IP:      addr,
				Port:    strconv.Itoa(int(port.ID)),
				Proto:   port.Protocol,
				Service: port.Service.Name,
				Product: product,
			}})
			fmt.Fprintf(&notes, "%s %d/%s open %s %s\n",
				addr, port.ID, port.Protocol, port.Service.Name, product)
			openPorts++
		}
	}

	fmt.Fprintf(&notes, "%d host(s) up, %d open port(s)\n", hostCount(res.Targets), openPorts)
	res.Notes = notes.String()
	if openPorts > 0 {
		res.Tags = p.Tags()
	}
	return res, nil
}

func hostCount(targets []Target) int {
	n := 0
	for _, t := range targets {
		if t.Host != nil {
			n++
		}
	}
	return n
}
