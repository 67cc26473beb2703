package dvstore

import (
	"strings"

	"github.com/wondertwin-ai/recordtwin/internal/webapi"
)

// knownEntities are resolved by exact set name before any suffix rules.
var knownEntities = []string{
	"account", "contact", "lead", "opportunity", "incident", "task",
	"email", "phonecall", "appointment", "systemuser", "team",
	"businessunit", "product", "pricelevel", "quote", "salesorder",
	"invoice", "campaign", "competitor", "address", "annotation",
}

// EntityForSet maps a collection name from a URL back to its entity type:
// "accounts" → "account", "opportunities" → "opportunity". Existing tables
// and well-known entities win over the suffix rules.
func (s *MemoryStore) EntityForSet(set string) string {
	set = strings.ToLower(set)
	for _, name := range s.Entities() {
		if webapi.EntitySetName(name) == set {
			return name
		}
	}
	for _, name := range knownEntities {
		if webapi.EntitySetName(name) == set {
			return name
		}
	}
	return singular(set)
}

func singular(set string) string {
	candidates := make([]string, 0, 3)
	if base, ok := strings.CutSuffix(set, "ies"); ok {
		candidates = append(candidates, base+"y")
	}
	if base, ok := strings.CutSuffix(set, "es"); ok {
		candidates = append(candidates, base)
	}
	if base, ok := strings.CutSuffix(set, "s"); ok {
		candidates = append(candidates, base)
	}
	for _, c := range candidates {
		if c != "" && webapi.EntitySetName(c) == set {
			return c
		}
	}
	return set
}
