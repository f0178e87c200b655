package models

// Host is a target machine identified by an IP address or DNS name.
// InScopes is a strict function of (address, current scope set, settings)
// and is recomputed whenever scopes or the address change.
type Host struct {
	ID       string            `json:"id"`
	Pentest  string            `json:"pentest"`
	IP       string            `json:"ip"` // address string: IP or DNS name
	Notes    string            `json:"notes,omitempty"`
	InScopes []string          `json:"in_scopes"` // ids of scopes the host matches
	Infos    map[string]string `json:"infos,omitempty"`
}

// InScope reports whether the host currently matches at least one scope.
func (h *Host) InScope() bool {
	return len(h.InScopes) > 0
}

// Port is an open service port on a host. (IP, Port, Proto) is unique
// within an engagement.
type Port struct {
	ID      string            `json:"id"`
	Pentest string            `json:"pentest"`
	IP      string            `json:"ip"`
	Port    string            `json:"port"`
	Proto   string            `json:"proto"`
	Service string            `json:"service,omitempty"`
	Product string            `json:"product,omitempty"`
	Notes   string            `json:"notes,omitempty"`
	Infos   map[string]string `json:"infos,omitempty"`
}

// Tag marks a target with a named label. Adding or removing a tag fires
// the matching tag:onAdd:<name> / tag:onRemove:<name> triggers.
type Tag struct {
	ID         string `json:"id"`
	Pentest    string `json:"pentest"`
	ItemID     string `json:"item_id"`
	ItemType   string `json:"item_type"`
	Name       string `json:"name"`
	Level      string `json:"level,omitempty"` // info, todo, high ...
	Notes      string `json:"notes,omitempty"`
}
