package models

// Defect severities, in report order. Unassigned defects are kept as a
// strictly ordered list: Critical defects precede Major precede Important
// precede Minor, and Index values form a contiguous [0..N-1] permutation.
const (
	SeverityCritical  = "Critical"
	SeverityMajor     = "Major"
	SeverityImportant = "Important"
	SeverityMinor     = "Minor"
)

// SeverityRank maps a severity to its sort rank (lower sorts first).
// Unknown severities rank last.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityImportant:
		return 2
	case SeverityMinor:
		return 3
	}
	return 4
}

// Defect is a pentest-report finding. A defect with an empty TargetID is
// "unassigned" and belongs to the globally ordered list; assigned defects
// are attached to a (target id, target type) pair.
type Defect struct {
	ID         string `json:"id"`
	Pentest    string `json:"pentest"`
	Title      string `json:"title"`
	Severity   string `json:"severity"`
	Index      int    `json:"index"` // position in the unassigned list
	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	Language   string `json:"language,omitempty"`
	Proofs     []string `json:"proofs,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Assigned reports whether the defect is attached to a target.
func (d *Defect) Assigned() bool {
	return d.TargetID != ""
}
