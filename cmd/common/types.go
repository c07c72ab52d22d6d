package common

import "time"

// Vulnerability is a stored vulnerable package of one host.
type Vulnerability struct {
	ID               int64  `json:"id"`
	Hostname         string `json:"hostname"`
	Software         string `json:"software"`
	InstalledVersion string `json:"installed_version"`
	CVEID            string `json:"cve_id"`
	Severity         string `json:"severity"`
	Description      string `json:"description"`
}

// PackageUpdate is one entry of the package version history.
type PackageUpdate struct {
	ID         int64     `json:"id"`
	Hostname   string    `json:"hostname"`
	Software   string    `json:"software"`
	OldVersion string    `json:"old_version"`
	NewVersion string    `json:"new_version"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Device is a host that has submitted an inventory.
type Device struct {
	ID       int64     `json:"id"`
	Hostname string    `json:"hostname"`
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"last_seen"`
}

// Summary is the outcome of one inventory submission.
type Summary struct {
	RunID    string `json:"run_id"`
	Hostname string `json:"hostname"`
	Critical int    `json:"critical"`
	High     int    `json:"high"`
	Medium   int    `json:"medium"`
	Low      int    `json:"low"`
	Total    int    `json:"total"`
}

type Vulnerabilities struct {
	Vulnerabilities []Vulnerability
}

func NewVulnerabilities() *Vulnerabilities {
	return &Vulnerabilities{}
}

func (v *Vulnerabilities) Add(vulnerability Vulnerability) {
	v.Vulnerabilities = append(v.Vulnerabilities, vulnerability)
}

func (v *Vulnerabilities) Get() []Vulnerability {
	return v.Vulnerabilities
}

// BySeverity groups the collected vulnerabilities by severity.
func (v *Vulnerabilities) BySeverity() map[string][]Vulnerability {
	out := make(map[string][]Vulnerability)
	for _, vuln := range v.Vulnerabilities {
		out[vuln.Severity] = append(out[vuln.Severity], vuln)
	}
	return out
}
