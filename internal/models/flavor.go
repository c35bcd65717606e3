package models

import (
	"github.com/quotaledger/quotaledger/internal/errors"
)

// Flavor is an instance type; quotas limit flavors through their group.
type Flavor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GroupRef string `json:"group"`
}

func (f *Flavor) Validate() error {
	if f.Name == "" {
		return errors.Invalid("name", "required for a flavor")
	}
	if f.GroupRef == "" {
		return errors.Invalid("group", "required for a flavor")
	}
	return nil
}
