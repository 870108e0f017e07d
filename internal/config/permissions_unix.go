//go:build unix

package config

import (
	"fmt"
	"os"
)

// checkFilePermissions warns when the config file is readable beyond its
// owner. Config files carry database passwords, so anything looser than
// 0600 gets flagged; a failed stat stays silent.
func checkFilePermissions(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	mode := info.Mode().Perm()
	if mode&0077 == 0 {
		return ""
	}

	return fmt.Sprintf(
		"WARNING: config file %s is group- or world-accessible (%04o);\n"+
			"         database credentials inside it may be readable by other users.\n"+
			"         Tighten it with: chmod 600 %s\n\n",
		path, mode, path,
	)
}
