package fs

import "strings"

// RootSector and FreeMapSector are the two sectors reserved at boot: the
// free-map file's header and the root directory's header, per
// SPEC_FULL.md §3/§6.
const (
	FreeMapSector = 0
	RootSector    = 1
)

// splitPath breaks a '/'-separated path into its intermediate-directory
// components and its leaf name, per SPEC_FULL.md §4.5. A leading '/'
// marks an absolute path; the caller uses that to decide whether to start
// from the root or from the current directory.
func splitPath(path string) (absolute bool, components []string, leaf string) {
	absolute = strings.HasPrefix(path, "/")
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return absolute, nil, ""
	}

	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		components = append(components, p)
	}
	if len(components) == 0 {
		return absolute, nil, ""
	}
	leaf = components[len(components)-1]
	components = components[:len(components)-1]
	return absolute, components, leaf
}
