package bridge

import (
	"path/filepath"
	"strings"
)

// normalizeOutputPath strips a file:// scheme and anchors relative paths in
// outputDir. An empty result means no usable path was given.
func normalizeOutputPath(src, outputDir string) string {
	path := strings.TrimPrefix(src, "file://")
	if path == "" {
		return ""
	}

	if !filepath.IsAbs(path) && outputDir != "" {
		path = filepath.Join(outputDir, path)
	}

	return filepath.Clean(path)
}
