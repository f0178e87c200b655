package models

// Computer is an Active Directory machine discovered during the engagement.
// Users and Admins hold User record ids; Users do not back-reference
// (id-only edges, never traversed by memory pointer).
type Computer struct {
	ID          string   `json:"id"`
	Pentest     string   `json:"pentest"`
	Name        string   `json:"name"`
	IP          string   `json:"ip"`
	Domain      string   `json:"domain"`
	Admins      []string `json:"admins,omitempty"`
	Users       []string `json:"users,omitempty"`
	IsDC        bool     `json:"is_dc"`
	IsSQLServer bool     `json:"is_sqlserver"`
	SMBv1       bool     `json:"smbv1"`
	Signing     bool     `json:"signing"`
	Infos       map[string]string `json:"infos,omitempty"`
}

// User is a domain account.
type User struct {
	ID       string   `json:"id"`
	Pentest  string   `json:"pentest"`
	Domain   string   `json:"domain"`
	Username string   `json:"username"`
	Password string   `json:"password,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Infos    map[string]string `json:"infos,omitempty"`
}

// Share is an SMB share and the files of interest found on it.
type Share struct {
	ID      string      `json:"id"`
	Pentest string      `json:"pentest"`
	IP      string      `json:"ip"`
	Name    string      `json:"share"`
	Files   []ShareFile `json:"files,omitempty"`
}

// ShareFile is one file listed on a share.
type ShareFile struct {
	Path    string `json:"path"`
	Flagged bool   `json:"flagged"`
	Priv    string `json:"priv,omitempty"`
	Size    int64  `json:"size"`
	User    string `json:"user,omitempty"` // account used to access the file
}
