//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// checkFilePermissions returns a warning if a file holding credentials or
// keys may be readable by other users.
func checkFilePermissions(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	output, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}

	acl := strings.ToLower(string(output))

	insecurePatterns := []string{
		"everyone",
		"authenticated users",
		"users",
		"builtin\\users",
	}

	for _, pattern := range insecurePatterns {
		if strings.Contains(acl, pattern) {
			return fmt.Sprintf(
				"WARNING: '%s' may have insecure permissions\n"+
					"         Other users may be able to read connection secrets.\n"+
					"         Run in PowerShell to secure:\n"+
					"         icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n",
				path, path,
			)
		}
	}
	return ""
}
