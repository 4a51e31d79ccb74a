package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// reservedSlugs are labels under the platform domain that tenants may not claim.
var reservedSlugs = map[string]struct{}{
	"www": {}, "api": {}, "app": {}, "admin": {}, "dashboard": {}, "console": {},
	"mail": {}, "smtp": {}, "ftp": {}, "static": {}, "cdn": {}, "assets": {},
	"docs": {}, "status": {}, "blog": {}, "support": {}, "help": {}, "auth": {},
	"login": {}, "deploy": {}, "runtime": {}, "manifests": {}, "sites": {},
	"root": {}, "default": {}, "current": {}, "active": {}, "latest": {},
}

// ValidateSlug checks that slug is a lowercase DNS label that is not reserved.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("slug is required")
	}
	if len(slug) > 63 {
		return fmt.Errorf("slug must be at most 63 characters")
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug %q must be lowercase letters, digits and dashes, not starting or ending with a dash", slug)
	}
	if _, ok := reservedSlugs[slug]; ok {
		return fmt.Errorf("slug %q is reserved", slug)
	}
	return nil
}

// IsReservedRef reports whether ref names the caller's default site rather
// than a concrete one.
func IsReservedRef(ref string) bool {
	switch strings.ToLower(strings.TrimSpace(ref)) {
	case "", "default", "current", "active", "latest":
		return true
	}
	return false
}
