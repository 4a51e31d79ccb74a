package utils

import (
	"fmt"
	"path"
	"strings"
)

// CleanRelPath validates a deployment file path and returns its canonical
// slash separated form. Absolute paths, parent traversal and paths naming a
// directory are rejected.
func CleanRelPath(p string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if raw == "" {
		return "", fmt.Errorf("file path is empty")
	}
	if strings.HasPrefix(raw, "/") || (len(raw) > 1 && raw[1] == ':') {
		return "", fmt.Errorf("file path %q must be relative", p)
	}
	if strings.HasSuffix(raw, "/") {
		return "", fmt.Errorf("file path %q names a directory", p)
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", fmt.Errorf("file path %q escapes the deployment root", p)
		}
	}

	cleaned := strings.TrimPrefix(path.Clean(raw), "./")
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("file path %q is empty", p)
	}
	return cleaned, nil
}
