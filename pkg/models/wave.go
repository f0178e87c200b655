package models

// Wave is a named phase inside an engagement grouping commands, intervals,
// and scopes.
type Wave struct {
	ID           string            `json:"id"`
	Pentest      string            `json:"pentest"`
	Name         string            `json:"wave"`
	WaveCommands []string          `json:"wave_commands"` // authorized command ids
	Infos        map[string]string `json:"infos,omitempty"`
}

// Interval is a [start, end] timestamp window attached to a wave.
// The wave is "in time" when now falls within any of its intervals.
type Interval struct {
	ID      string `json:"id"`
	Pentest string `json:"pentest"`
	Wave    string `json:"wave"`
	Dated   string `json:"dated"` // start, IntervalTimeLayout
	Datef   string `json:"datef"` // end, IntervalTimeLayout
}

// IntervalTimeLayout is the datetime layout used by interval bounds.
const IntervalTimeLayout = "02/01/2006 15:04:05"

// Scope is a string predicate (CIDR, IP, domain, or sub-domain pattern)
// attached to a wave. It determines which hosts the wave may target.
type Scope struct {
	ID      string `json:"id"`
	Pentest string `json:"pentest"`
	Wave    string `json:"wave"`
	Scope   string `json:"scope"`
	Notes   string `json:"notes,omitempty"`
}
