package models

// Command is a named, versioned invocation template. Commands live either in
// the global catalog (Pentest == "") or per-engagement, in which case
// Original points back to the catalog template the copy was derived from.
//
// The Text template may contain variable placeholders such as |ip|, |port|,
// |port.service|, |wave|, |domain| and |tool.infos.<key>|; see the entities
// package for the full resolver.
type Command struct {
	ID       string   `json:"id"`
	Pentest  string   `json:"pentest,omitempty"` // "" = global catalog
	Name     string   `json:"name"`
	Bin      string   `json:"bin_path"`
	Plugin   string   `json:"plugin"`
	Text     string   `json:"text"`
	Owners   []string `json:"owners,omitempty"`
	Timeout  int      `json:"timeout"` // seconds
	Original string   `json:"original_iid,omitempty"`
}

// CheckItem is a catalog entry describing a manual or automated verification
// activity. Lvl is the trigger the item reacts to (wave, ip,
// port:onServiceUpdate, tag:onAdd:<tag>, AD:onNewDC, ...).
type CheckItem struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Lvl          string      `json:"lvl"`
	Ports        string      `json:"ports,omitempty"` // comma list of proto/number, proto/service, proto/low-high
	PentestTypes []string    `json:"pentest_types,omitempty"`
	Priority     int         `json:"priority"`
	MaxThread    int         `json:"max_thread"`
	Category     string      `json:"category,omitempty"`
	Commands     []string    `json:"commands,omitempty"` // command ids provisioned per instance
	DefectTags   []DefectTag `json:"defect_tags,omitempty"`
	Description  string      `json:"description,omitempty"`
}

// DefectTag links a tag raised by a check to a defect template.
type DefectTag struct {
	Tag      string `json:"tag"`
	DefectID string `json:"defect_iid"`
}

// CheckInstance is a per-target materialization of a check-item.
type CheckInstance struct {
	ID         string `json:"id"`
	Pentest    string `json:"pentest"`
	CheckIID   string `json:"check_iid"`
	TargetIID  string `json:"target_iid"`
	TargetType string `json:"target_type"`
	Status     string `json:"status"` // "", "running", "done"
	Notes      string `json:"notes,omitempty"`
}
