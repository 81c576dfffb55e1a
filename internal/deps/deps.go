// Package deps reports whether the external recognition engines a
// configuration names can actually be executed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"decklens/internal/config"
)

// Requirement names one external command.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// EngineRequirements lists the recognizers cfg configures. The fallback engine
// is optional and only listed when a command is set.
func EngineRequirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	reqs := []Requirement{{
		Name:        engineName(cfg.Recognizer.Primary, "primary"),
		Command:     cfg.Recognizer.Primary.Command,
		Description: "primary recognizer",
	}}
	if strings.TrimSpace(cfg.Recognizer.Fallback.Command) != "" {
		reqs = append(reqs, Requirement{
			Name:        engineName(cfg.Recognizer.Fallback, "fallback"),
			Command:     cfg.Recognizer.Fallback.Command,
			Description: "fallback recognizer",
			Optional:    true,
		})
	}
	return reqs
}

func engineName(engine config.Engine, role string) string {
	if name := strings.TrimSpace(engine.Name); name != "" {
		return name
	}
	return role
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
