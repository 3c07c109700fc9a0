package utils

import (
	"path"
	"path/filepath"
	"strings"
)

const av1Suffix = ".av1"

// DefaultOutputPath derives where an encode of input is written when the
// submitter names no output: "movie.mp4" becomes "movie.av1.mp4" and
// "clip.mkv" becomes "clip.av1.mkv". Inputs without an extension get ".av1.mp4".
func DefaultOutputPath(input string) string {
	dir, file := splitLast(input)
	ext := path.Ext(file)
	if ext == "" || ext == file {
		return dir + file + av1Suffix + ".mp4"
	}
	return dir + strings.TrimSuffix(file, ext) + av1Suffix + ext
}

// splitLast cuts p after its last slash. It works the same for local paths
// and s3:// URIs.
func splitLast(p string) (string, string) {
	i := strings.LastIndex(p, "/")
	return p[:i+1], p[i+1:]
}

// WithinRoots reports whether p is an absolute path at or below one of roots.
// Symlinks are not resolved.
func WithinRoots(p string, roots []string) bool {
	if !filepath.IsAbs(p) {
		return false
	}
	p = filepath.Clean(p)
	for _, root := range roots {
		if !filepath.IsAbs(root) {
			continue
		}
		rel, err := filepath.Rel(filepath.Clean(root), p)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}
