package models

import "time"

// Engagement is a named isolated workspace containing one pentest's data.
// All per-engagement records carry the engagement name in their Pentest field.
type Engagement struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Settings   Settings  `json:"settings"`
	Pentesters []string  `json:"pentesters"`
	CreatedAt  time.Time `json:"created_at"`
}

// Settings holds the per-engagement settings recognized by the core.
type Settings struct {
	PentestType                        string   `json:"pentest_type"`
	AutoscanThreads                    int      `json:"autoscan_threads"`
	IncludeDomainsWithIPInScope        bool     `json:"include_domains_with_ip_in_scope"`
	IncludeDomainsWithTopdomainInScope bool     `json:"include_domains_with_topdomain_in_scope"`
	IncludeAllDomains                  bool     `json:"include_all_domains"`
	Lang                               string   `json:"lang"`
	Pentesters                         []string `json:"pentesters"`
}

// DefaultSettings returns the settings applied when an engagement is
// registered without explicit values.
func DefaultSettings() Settings {
	return Settings{
		PentestType:     "web",
		AutoscanThreads: 4,
		Lang:            "en",
	}
}
