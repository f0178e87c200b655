package models

import "slices"

// Primary tool statuses. A tool carries exactly one primary status plus
// the orthogonal OOS/OOT flags.
const (
	StatusReady    = "ready"
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusError    = "error"
	StatusTimedOut = "timedout"

	// Orthogonal flags: target outside all scopes / now outside all intervals.
	StatusOutOfScope = "OOS"
	StatusOutOfTime  = "OOT"
)

// NoneDate is the sentinel stored in Dated/Datef for a tool that has not
// started or finished yet.
const NoneDate = "None"

// ToolDateLayout is the layout of tool start/end timestamps.
const ToolDateLayout = "02/01/2006 15:04:05"

// Tool is a planned or executed command against a target.
type Tool struct {
	ID         string            `json:"id"`
	Pentest    string            `json:"pentest"`
	Name       string            `json:"name"`
	CommandID  string            `json:"command_iid"`
	CheckIID   string            `json:"check_iid"`
	Lvl        string            `json:"lvl"`
	Wave       string            `json:"wave"`
	Scope      string            `json:"scope,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Port       string            `json:"port,omitempty"`
	Proto      string            `json:"proto,omitempty"`
	Text       string            `json:"text"` // resolved command line
	Status     []string          `json:"status"`
	ScannerIP  string            `json:"scanner_ip,omitempty"` // worker name while running
	Dated      string            `json:"dated"`                // start timestamp or "None"
	Datef      string            `json:"datef"`                // end timestamp or "None"
	ResultFile string            `json:"resultfile,omitempty"`
	Plugin     string            `json:"plugin_used,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Infos      map[string]string `json:"infos,omitempty"`
}

// HasStatus reports whether the tool's status set contains s.
func (t *Tool) HasStatus(s string) bool {
	return slices.Contains(t.Status, s)
}

// PrimaryStatus returns the primary status, ignoring the OOS/OOT flags.
// An empty status set is reported as ready.
func (t *Tool) PrimaryStatus() string {
	for _, s := range t.Status {
		if s != StatusOutOfScope && s != StatusOutOfTime {
			return s
		}
	}
	return StatusReady
}

// SetPrimaryStatus replaces the primary status while preserving the
// OOS/OOT flags.
func (t *Tool) SetPrimaryStatus(s string) {
	flags := make([]string, 0, 2)
	for _, cur := range t.Status {
		if cur == StatusOutOfScope || cur == StatusOutOfTime {
			flags = append(flags, cur)
		}
	}
	t.Status = append([]string{s}, flags...)
}

// SetFlag adds or removes one of the orthogonal OOS/OOT flags.
func (t *Tool) SetFlag(flag string, on bool) {
	has := t.HasStatus(flag)
	if on && !has {
		t.Status = append(t.Status, flag)
	}
	if !on && has {
		t.Status = slices.DeleteFunc(t.Status, func(s string) bool { return s == flag })
	}
}

// Terminal reports whether the tool reached a terminal primary status.
func (t *Tool) Terminal() bool {
	switch t.PrimaryStatus() {
	case StatusDone, StatusError, StatusTimedOut:
		return true
	}
	return false
}
