package collector

import "catalogsync/pkg/types"

// DedupeExact removes exact duplicate URLs, keeping first-seen order.
func DedupeExact(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// DedupeBaseProduct collapses per-colourway detail URLs of one product into
// the first URL seen per base product path. Applying it twice is a no-op.
func DedupeBaseProduct(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := types.BaseProductKey(u)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}
