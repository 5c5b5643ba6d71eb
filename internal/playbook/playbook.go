// Package playbook provides methodology playbooks for autonomous runs.
//
// A playbook is an ordered list of phases, each with a goal and a step
// budget. The store serves built-in playbooks plus YAML definitions from
// a directory, optionally hot-reloaded on file changes. A file playbook
// with the same ID as a built-in shadows it.
package playbook

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a playbook ID does not exist.
var ErrNotFound = errors.New("playbook not found")

// defaultPhaseSteps applies when a phase omits max_steps.
const defaultPhaseSteps = 2

// Phase is one phase of a playbook.
type Phase struct {
	// Name identifies the phase in events and status output.
	Name string `koanf:"name" json:"name"`
	// Goal is the objective handed to the model for this phase.
	Goal string `koanf:"goal" json:"goal"`
	// Tools hints which tools suit this phase. Advisory only.
	Tools []string `koanf:"tools" json:"tools,omitempty"`
	// MaxSteps bounds proposed steps within the phase.
	MaxSteps int `koanf:"max_steps" json:"max_steps"`
}

// Playbook is a named testing methodology.
type Playbook struct {
	// ID is the stable identifier used by start requests.
	ID string `koanf:"id" json:"id"`
	// Name is the display name.
	Name string `koanf:"name" json:"name"`
	// Description summarizes the methodology.
	Description string `koanf:"description" json:"description"`
	// Category groups playbooks for listing (recon, web, network, ...).
	Category string `koanf:"category" json:"category"`
	// Phases are executed in order.
	Phases []Phase `koanf:"phases" json:"phases"`
	// Builtin marks playbooks compiled into the binary.
	Builtin bool `koanf:"-" json:"builtin"`
}

// validate normalizes the playbook in place and reports structural
// problems. The fallbackID is used when the definition omits id.
func (p *Playbook) validate(fallbackID string) error {
	if p.ID == "" {
		p.ID = fallbackID
	}
	if p.ID == "" {
		return errors.New("playbook id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("playbook %s has no phases", p.ID)
	}
	for i := range p.Phases {
		ph := &p.Phases[i]
		if ph.Name == "" {
			return fmt.Errorf("playbook %s: phase %d has no name", p.ID, i)
		}
		if ph.Goal == "" {
			return fmt.Errorf("playbook %s: phase %q has no goal", p.ID, ph.Name)
		}
		if ph.MaxSteps < 1 {
			ph.MaxSteps = defaultPhaseSteps
		}
	}
	return nil
}

// builtins returns the playbooks compiled into the binary.
func builtins() []Playbook {
	return []Playbook{
		{
			ID:          "recon",
			Name:        "Reconnaissance",
			Description: "Passive and active reconnaissance of the target surface.",
			Category:    "recon",
			Builtin:     true,
			Phases: []Phase{
				{
					Name:     "subdomain-enumeration",
					Goal:     "Enumerate subdomains of the in-scope domains using passive sources.",
					Tools:    []string{"subfinder", "amass", "dnsx"},
					MaxSteps: 2,
				},
				{
					Name:     "service-discovery",
					Goal:     "Probe discovered hosts for live HTTP services and open ports.",
					Tools:    []string{"httpx", "naabu", "nmap"},
					MaxSteps: 3,
				},
				{
					Name:     "technology-fingerprinting",
					Goal:     "Fingerprint web technologies and identify notable endpoints.",
					Tools:    []string{"whatweb", "katana", "waybackurls"},
					MaxSteps: 2,
				},
			},
		},
		{
			ID:          "web-basic",
			Name:        "Web Application Baseline",
			Description: "Baseline assessment of in-scope web applications.",
			Category:    "web",
			Builtin:     true,
			Phases: []Phase{
				{
					Name:     "surface-mapping",
					Goal:     "Map the application surface: endpoints, parameters, and auth boundaries.",
					Tools:    []string{"katana", "ffuf", "gau"},
					MaxSteps: 3,
				},
				{
					Name:     "vulnerability-scanning",
					Goal:     "Run template-based vulnerability scans against the mapped surface.",
					Tools:    []string{"nuclei", "nikto"},
					MaxSteps: 3,
				},
				{
					Name:     "tls-and-headers",
					Goal:     "Assess TLS configuration and security headers.",
					Tools:    []string{"tlsx", "sslscan"},
					MaxSteps: 2,
				},
			},
		},
	}
}
