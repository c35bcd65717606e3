package models

// OverageRecord reports an entry whose recorded usage exceeds its limit.
type OverageRecord struct {
	EntryKind EntryKind `json:"entry_kind"`
	EntryID   string    `json:"entry_id"`
	OwnerRef  string    `json:"user,omitempty"`
	GroupRef  string    `json:"group,omitempty"`
	Limit     int64     `json:"limit"`
	Consumed  int64     `json:"consumed"`
	Overage   int64     `json:"overage"`
}
