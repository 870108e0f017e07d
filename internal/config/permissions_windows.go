//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// checkFilePermissions warns when the config file's ACL grants access to
// broad principals. Windows has no simple mode bits, so this shells out to
// icacls and looks for the well-known wide groups; any failure to inspect
// stays silent rather than blocking the load.
func checkFilePermissions(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	out, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}
	acl := strings.ToLower(string(out))

	wideGroups := []string{
		"everyone",
		"authenticated users",
		"builtin\\users",
		"users",
	}
	for _, g := range wideGroups {
		if strings.Contains(acl, g) {
			return fmt.Sprintf(
				"WARNING: config file %s grants access to broad groups;\n"+
					"         database credentials inside it may be readable by other users.\n"+
					"         Restrict it with: icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n",
				path, path,
			)
		}
	}
	return ""
}
