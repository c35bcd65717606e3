package models

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// ID prefixes of ledger entries. IDs look like "quota_01h2xcejqtf2nbrexx3vqjhp41".
const (
	PrefixQuota  = "quota"
	PrefixBudget = "budget"
	PrefixFlavor = "flavor"
)

// NewID generates a K-sortable entry id with the given prefix.
func NewID(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("models: invalid id prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// IDHasPrefix reports whether s parses as an id of the given prefix.
func IDHasPrefix(s, prefix string) bool {
	tid, err := typeid.Parse(s)
	if err != nil {
		return false
	}
	return tid.Prefix() == prefix
}
