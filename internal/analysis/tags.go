package analysis

import "strings"

// FilterTags matches candidate tags case-insensitively against the valid
// vocabulary, normalizes matches to the vocabulary's canonical casing, and
// drops everything else. Order follows the candidates; duplicates collapse
// onto the first occurrence.
func FilterTags(candidates, valid []string) []string {
	canonical := make(map[string]string, len(valid))
	for _, tag := range valid {
		canonical[strings.ToLower(strings.TrimSpace(tag))] = tag
	}

	seen := make(map[string]bool, len(candidates))
	ret := make([]string, 0, len(candidates))
	for _, tag := range candidates {
		key := strings.ToLower(strings.TrimSpace(tag))
		if key == "" {
			continue
		}
		match, ok := canonical[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		ret = append(ret, match)
	}
	return ret
}
