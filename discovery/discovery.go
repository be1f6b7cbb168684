package discovery

import (
	"context"

	"github.com/sydrvxd/OpenVISA/visa"
)

const maxResults = 128

// sources lists the enumeration functions Find merges. It is a package
// variable, not a literal call sequence, so tests can substitute fakes
// without touching real network/USB/filesystem state.
var sources = []func(ctx context.Context) ([]string, error){
	MDNSDiscover,
	func(context.Context) ([]string, error) { return USBDiscover() },
	func(context.Context) ([]string, error) { return SerialDiscover() },
}

// Find runs mDNS, USB, and serial discovery, merges their results,
// keeps only the entries matching pattern, de-duplicates while
// preserving insertion order, and caps the list at maxResults. An empty
// result after filtering is reported as resource_not_found, matching
// find_resources' contract.
//
// Each source is best-effort: a source that errors (no USB stack
// present, /dev unreadable in a sandbox, no multicast-capable
// interface) is skipped rather than failing the whole call, since the
// caller's pattern may only be asking for one interface kind anyway.
func Find(ctx context.Context, pattern string) ([]string, error) {
	var all []string
	for _, src := range sources {
		if r, err := src(ctx); err == nil {
			all = append(all, r...)
		}
	}

	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, r := range all {
		if !matchGlob(pattern, r) {
			continue
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
		if len(out) >= maxResults {
			break
		}
	}

	if len(out) == 0 {
		return nil, visa.NewError("discovery.Find", visa.StatusResourceNotFound, nil)
	}
	return out, nil
}
