package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"triad/internal/config"
)

// Requirement defines an external dependency triad relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// MergeRequirements lists the binaries the merge pipeline executes.
func MergeRequirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "Probes statement durations and streams"},
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "Normalizes, concatenates and compresses statements"},
	}
	return reqs
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
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		if err := unix.Access(resolved, unix.X_OK); err != nil {
			status.Detail = fmt.Sprintf("binary %q not executable: %v", resolved, err)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the required dependencies that are unavailable.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
