package models

import (
	"time"

	"github.com/quotaledger/quotaledger/internal/errors"
)

// Scope is the specificity level a quota entry applies at.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeGroup  Scope = "group"
	ScopeUser   Scope = "user"
)

// Specificity lists scopes from most to least specific. Admission resolves
// the applicable quota entry by walking this list; the first match wins.
var Specificity = []Scope{ScopeUser, ScopeGroup, ScopeGlobal}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeGroup, ScopeUser:
		return true
	}
	return false
}

// ScopeOf derives the scope implied by a pair of references.
func ScopeOf(ownerRef, groupRef string) Scope {
	switch {
	case ownerRef != "":
		return ScopeUser
	case groupRef != "":
		return ScopeGroup
	default:
		return ScopeGlobal
	}
}

// QuotaEntry caps the number of instances of a resource group at one scope.
type QuotaEntry struct {
	ID             string     `json:"id"`
	Scope          Scope      `json:"scope"`
	GroupRef       string     `json:"group,omitempty"`
	OwnerRef       string     `json:"user,omitempty"`
	Limit          int64      `json:"limit"`
	Consumed       int64      `json:"consumed"`
	Outstanding    int64      `json:"outstanding"`
	LastReservedAt *time.Time `json:"last_reserved_at,omitempty"`
	SyncedAt       *time.Time `json:"synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks limit sign and that the references match the scope.
func (q *QuotaEntry) Validate() error {
	if q.Limit < 0 {
		return errors.Invalid("limit", "must not be negative, got %d", q.Limit)
	}
	return ValidateScope(q.Scope, q.OwnerRef, q.GroupRef)
}

// ValidateScope checks that exactly the references required by scope are set.
func ValidateScope(scope Scope, ownerRef, groupRef string) error {
	if !scope.Valid() {
		return errors.Invalid("scope", "unknown scope %q", scope)
	}
	switch scope {
	case ScopeGlobal:
		if groupRef != "" || ownerRef != "" {
			return errors.Invalid("scope", "global quota must not reference a group or user")
		}
	case ScopeGroup:
		if groupRef == "" {
			return errors.Invalid("group", "required for group scope")
		}
		if ownerRef != "" {
			return errors.Invalid("user", "group quota must not reference a user")
		}
	case ScopeUser:
		if groupRef == "" {
			return errors.Invalid("group", "required for user scope")
		}
		if ownerRef == "" {
			return errors.Invalid("user", "required for user scope")
		}
	}
	return nil
}

// Used returns consumed plus outstanding reservations.
func (q *QuotaEntry) Used() int64 {
	return q.Consumed + q.Outstanding
}

// Remaining returns the capacity left for new reservations, never below zero.
func (q *QuotaEntry) Remaining() int64 {
	return remaining(q.Limit, q.Used())
}

// IsOver reports whether recorded usage strictly exceeds the limit.
func (q *QuotaEntry) IsOver() bool {
	return q.Consumed > q.Limit
}

// Pair returns the owner/resource-group key this entry reconciles against.
func (q *QuotaEntry) Pair() Pair {
	return Pair{Kind: KindQuota, Owner: q.OwnerRef, Group: q.GroupRef}
}

// Clone returns a deep copy.
func (q *QuotaEntry) Clone() *QuotaEntry {
	if q == nil {
		return nil
	}
	c := *q
	c.LastReservedAt = cloneTime(q.LastReservedAt)
	c.SyncedAt = cloneTime(q.SyncedAt)
	return &c
}

// QuotaFilter selects quota entries for listing. At most one field may be active.
type QuotaFilter struct {
	All   bool   `json:"all,omitempty"`
	Group string `json:"group,omitempty"`
	User  string `json:"user,omitempty"`
}

// Validate enforces that at most one filter is active.
func (f QuotaFilter) Validate() error {
	active := 0
	if f.All {
		active++
	}
	if f.Group != "" {
		active++
	}
	if f.User != "" {
		active++
	}
	if active > 1 {
		return errors.Invalid("filter", "all, group and user filters are mutually exclusive")
	}
	return nil
}

// Match reports whether q passes the filter.
func (f QuotaFilter) Match(q *QuotaEntry) bool {
	switch {
	case f.Group != "":
		return q.GroupRef == f.Group
	case f.User != "":
		return q.OwnerRef == f.User
	default:
		return true
	}
}

// CreateQuotaRequest carries the fields of a new quota entry.
type CreateQuotaRequest struct {
	Scope    Scope  `json:"scope"`
	GroupRef string `json:"group,omitempty"`
	OwnerRef string `json:"user,omitempty"`
	Limit    int64  `json:"limit"`
}

// QuotaPatch is a partial update; nil fields are left unchanged.
// An empty string for a reference clears it, which may change the scope.
type QuotaPatch struct {
	Limit    *int64  `json:"limit,omitempty"`
	GroupRef *string `json:"group,omitempty"`
	OwnerRef *string `json:"user,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p QuotaPatch) Empty() bool {
	return p.Limit == nil && p.GroupRef == nil && p.OwnerRef == nil
}

// Apply writes the patch onto q and rederives the scope.
func (p QuotaPatch) Apply(q *QuotaEntry) {
	if p.Limit != nil {
		q.Limit = *p.Limit
	}
	if p.GroupRef != nil {
		q.GroupRef = *p.GroupRef
	}
	if p.OwnerRef != nil {
		q.OwnerRef = *p.OwnerRef
	}
	q.Scope = ScopeOf(q.OwnerRef, q.GroupRef)
}

func remaining(limit, used int64) int64 {
	if rem := limit - used; rem > 0 {
		return rem
	}
	return 0
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
