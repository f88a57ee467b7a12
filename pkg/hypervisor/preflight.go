package hypervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Dependency represents a required external tool.
type Dependency struct {
	Name        string            // Tool name (e.g., "xl")
	Command     string            // Command to check (e.g., "xl")
	Packages    map[string]string // OS -> package name mapping
	Description string            // Human-readable description
}

// toolstackDeps are the tools the xl driver shells out to.
var toolstackDeps = []Dependency{
	{
		Name:        "xl",
		Command:     "xl",
		Description: "Xen toolstack used to trigger guest suspend and wake",
		Packages: map[string]string{
			"debian": "xen-utils-common",
			"ubuntu": "xen-utils-common",
			"fedora": "xen-runtime",
			"alpine": "xen",
			"arch":   "xen",
		},
	},
}

// Finding is one preflight result. Fatal findings mean suspend cannot
// work on this host; others are advisory.
type Finding struct {
	Check   string
	Message string
	Fatal   bool
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.Check, f.Message)
}

// Preflight checks that the host looks like a Xen control domain with
// the toolstack installed. xlPath overrides the xl command name.
func Preflight(ctx context.Context, xlPath string) []Finding {
	if !SupportedPlatform() {
		return []Finding{{Check: "platform", Message: "xensuspend only drives Xen from a Linux control domain", Fatal: true}}
	}

	var findings []Finding
	hostOS := detectHostOS()
	for _, dep := range toolstackDeps {
		command := dep.Command
		if dep.Name == "xl" && xlPath != "" {
			command = xlPath
		}
		if _, err := exec.LookPath(command); err != nil {
			msg := fmt.Sprintf("%s not found (%s)", command, dep.Description)
			if pkg := dep.Packages[hostOS]; pkg != "" {
				msg += fmt.Sprintf("; install package %q", pkg)
			}
			findings = append(findings, Finding{Check: "toolstack", Message: msg, Fatal: true})
		}
	}

	system, role, err := host.VirtualizationWithContext(ctx)
	switch {
	case err != nil:
		findings = append(findings, Finding{Check: "virtualization", Message: fmt.Sprintf("cannot detect: %v", err)})
	case system != "xen":
		findings = append(findings, Finding{Check: "virtualization", Message: fmt.Sprintf("not running under Xen (detected %q)", system)})
	case role != "host":
		findings = append(findings, Finding{Check: "virtualization", Message: "not the Xen control domain; host sleep will not be available"})
	}

	return findings
}

// detectHostOS returns the ID field of /etc/os-release.
func detectHostOS() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "linux"
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "ID=") {
			return strings.Trim(strings.TrimPrefix(line, "ID="), "\"")
		}
	}
	return "linux"
}
