package entities

import (
	"regexp"
	"strings"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// placeholderRe matches |name| and |name.sub| and |name.infos.key| tokens
// inside a command template.
var placeholderRe = regexp.MustCompile(`\|([A-Za-z_]+(?:\.[A-Za-z0-9_.-]+)*)\|`)

// CommandContext carries the target values available to a command template.
// Unset fields leave their placeholders intact so the operator can spot an
// unresolved variable instead of running a silently broken command line.
type CommandContext struct {
	Wave  string
	Scope string
	IP    string
	Port  *models.Port
	Host  *models.Host
	User  *models.User
	Tool  *models.Tool
}

// ResolveCommand substitutes the |...| placeholders of a command template
// with the values of the target context. Unknown placeholders are left
// unchanged.
func ResolveCommand(text string, cc CommandContext) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		name := strings.Trim(token, "|")
		if v, ok := resolvePlaceholder(name, cc); ok {
			return v
		}
		return token
	})
}

func resolvePlaceholder(name string, cc CommandContext) (string, bool) {
	switch name {
	case "wave":
		if cc.Wave != "" {
			return cc.Wave, true
		}
	case "scope":
		if cc.Scope != "" {
			return cc.Scope, true
		}
	case "ip":
		if cc.IP != "" {
			return cc.IP, true
		}
	case "port":
		if cc.Port != nil {
			return cc.Port.Port, true
		}
	case "port.proto":
		if cc.Port != nil {
			return cc.Port.Proto, true
		}
	case "port.service":
		if cc.Port != nil {
			return cc.Port.Service, true
		}
	case "port.product":
		if cc.Port != nil {
			return cc.Port.Product, true
		}
	case "domain":
		if cc.User != nil {
			return cc.User.Domain, true
		}
	case "username":
		if cc.User != nil {
			return cc.User.Username, true
		}
	case "password":
		if cc.User != nil {
			return cc.User.Password, true
		}
	}

	if key, ok := strings.CutPrefix(name, "ip.infos."); ok && cc.Host != nil {
		if v, ok := cc.Host.Infos[key]; ok {
			return v, true
		}
		return "", false
	}

	if key, ok := strings.CutPrefix(name, "port.infos."); ok && cc.Port != nil {
		if v, ok := cc.Port.Infos[key]; ok {
			return v, true
		}
		return "", false
	}
	if key, ok := strings.CutPrefix(name, "tool.infos."); ok && cc.Tool != nil {
		if v, ok := cc.Tool.Infos[key]; ok {
			return v, true
		}
		return "", false
	}
	return "", false
}
