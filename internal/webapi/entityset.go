package webapi

import "strings"

// EntitySetName returns the default collection name for a logical entity
// name: "account" is served from "accounts", "opportunity" from
// "opportunities", "address" from "addresses".
func EntitySetName(logical string) string {
	name := strings.ToLower(strings.TrimSpace(logical))
	if name == "" {
		return ""
	}
	switch {
	case strings.HasSuffix(name, "y") && len(name) > 1 && !isVowel(name[len(name)-2]):
		return name[:len(name)-1] + "ies"
	case strings.HasSuffix(name, "s"),
		strings.HasSuffix(name, "x"),
		strings.HasSuffix(name, "z"),
		strings.HasSuffix(name, "ch"),
		strings.HasSuffix(name, "sh"):
		return name + "es"
	}
	return name + "s"
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
