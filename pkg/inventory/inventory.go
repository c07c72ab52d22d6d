// Package inventory holds the software inventory a host agent submits for matching.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/package-url/packageurl-go"
)

// ErrMissingHostname is returned when a submission does not name its host.
var ErrMissingHostname = errors.New("inventory: hostname is required")

// Package is one installed piece of software.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	PURL    string `json:"purl,omitempty"`
}

// Inventory is a full submission for a single host.
type Inventory struct {
	Hostname string    `json:"hostname"`
	IP       string    `json:"ip"`
	Packages []Package `json:"packages"`
}

// Validate checks the submission and fills package names and versions from PURLs
// where the agent only reported a package URL. Packages left without a name are dropped.
func (inv *Inventory) Validate() error {
	inv.Hostname = strings.TrimSpace(inv.Hostname)
	if inv.Hostname == "" {
		return ErrMissingHostname
	}

	packages := inv.Packages[:0]
	for _, pkg := range inv.Packages {
		if err := pkg.expand(); err != nil {
			return err
		}
		if pkg.Name == "" {
			continue
		}
		packages = append(packages, pkg)
	}
	inv.Packages = packages
	return nil
}

func (p *Package) expand() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Version = strings.TrimSpace(p.Version)
	if p.PURL == "" {
		return nil
	}

	parsed, err := packageurl.FromString(p.PURL)
	if err != nil {
		return fmt.Errorf("invalid purl %q: %w", p.PURL, err)
	}
	if p.Name == "" {
		p.Name = parsed.Name
	}
	if p.Version == "" {
		p.Version = parsed.Version
	}
	return nil
}

// Parse decodes and validates an inventory document.
func Parse(r io.Reader) (*Inventory, error) {
	inv := new(Inventory)
	if err := json.NewDecoder(r).Decode(inv); err != nil {
		return nil, fmt.Errorf("unable to parse inventory: %w", err)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// ParseFile reads an inventory document from disk.
func ParseFile(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}
