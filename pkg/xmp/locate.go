// Package xmp locates, reads and updates XMP sidecar files for photo assets.
package xmp

import (
	"os"
	"path/filepath"
	"strings"
)

// Ext is the extension used by sidecar files.
const Ext = ".xmp"

// IsSidecar returns true if path looks like an XMP sidecar.
func IsSidecar(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Ext)
}

// PossibleNames returns the sidecar names an asset may have, full-name variant first.
func PossibleNames(path string) []string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return []string{path + Ext, base + Ext}
}

// NameFor returns the sidecar path to use when creating a new sidecar for path.
func NameFor(path string, preferExact bool) string {
	names := PossibleNames(path)
	if preferExact {
		return names[0]
	}
	return names[1]
}

// Existing returns the candidate sidecars for path that exist on disk.
func Existing(path string) []string {
	found := []string{}
	for _, p := range PossibleNames(path) {
		if len(found) > 0 && found[len(found)-1] == p {
			continue
		}
		if exists(p) {
			found = append(found, p)
		}
	}
	return found
}

// Preferred returns the first existing sidecar for path, searching the short name first if preferShort is set.
func Preferred(path string, preferShort bool) (string, bool) {
	names := PossibleNames(path)
	if preferShort {
		names[0], names[1] = names[1], names[0]
	}

	for _, p := range names {
		if exists(p) {
			return p, true
		}
	}
	return "", false
}

func exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
