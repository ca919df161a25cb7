package objectfilter

import "strings"

// Rules holds the object-key filter configuration for one tier, built from
// the ALLOWED_PREFIXES / EXCLUDE_KEY_PREFIXES / EXCLUDE_KEY_SUFFIXES
// environment options in section 6.
type Rules struct {
	ExcludePrefixes []string // shared across tiers
	ExcludeSuffixes []string // shared across tiers
	AllowedPrefixes []string // per-tier; empty means "no restriction"
}

// Allow applies the object filter from section 4.5 step 2 and invariant P5.
//
// Order of evaluation, all of which must pass for a key to be retained:
//  1. folder markers (keys ending in "/") are always excluded;
//  2. a key matching any exclude prefix is excluded — "matching" is the
//     strictest of the interpretations section 9's ambiguity note lists:
//     the key equals p, starts with p, contains "/p/", or has p/ as a
//     leading path segment;
//  3. a key ending in any exclude suffix is excluded;
//  4. if AllowedPrefixes is non-empty, the key must start with one of them.
func (r Rules) Allow(key string) bool {
	if key == "" || strings.HasSuffix(key, "/") {
		return false
	}

	for _, p := range r.ExcludePrefixes {
		if matchesExcludePrefix(key, p) {
			return false
		}
	}

	for _, s := range r.ExcludeSuffixes {
		if s != "" && strings.HasSuffix(key, s) {
			return false
		}
	}

	if len(r.AllowedPrefixes) > 0 {
		allowed := false
		for _, p := range r.AllowedPrefixes {
			if strings.HasPrefix(key, p) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return true
}

// matchesExcludePrefix implements the strictest-consistent exclude-prefix
// rule documented in section 9: key == p, key startswith p, "/p/" appears
// anywhere in key, or "p/" is a leading segment of key.
func matchesExcludePrefix(key, p string) bool {
	if p == "" {
		return false
	}
	if key == p {
		return true
	}
	if strings.HasPrefix(key, p) {
		return true
	}
	if strings.HasPrefix(key, p+"/") {
		return true
	}
	if strings.Contains(key, "/"+p+"/") {
		return true
	}
	return false
}
