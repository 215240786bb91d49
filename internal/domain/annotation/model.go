// Package annotation holds the annotation form schema, the field dependency
// rules and the reconciliation of a user's submitted values into a case's
// annotation record.
package annotation

import (
	"bytes"
	"encoding/json"
	"time"
)

// Draft is the per-case working copy a user submits. It replaces ambient
// per-field UI state: everything the save path needs travels in it.
type Draft struct {
	CaseID  string `json:"case_id"`
	Values  Values `json:"fields"`
	Advance bool   `json:"advance"`
}

// UserEntry is one user's saved annotation. UpdatedAt is kept as text so that
// files written by other tools (timestamps without a zone) load unchanged.
type UserEntry struct {
	Data      Values `json:"data"`
	UpdatedAt string `json:"updated_at"`
}

// Record is the annotation aggregate stored on a case. Verified, VerifiedAt
// and VerifiedBy are denormalized from the most recent save by any user.
type Record struct {
	ByUser     map[string]UserEntry `json:"by_user"`
	Verified   bool                 `json:"verified"`
	VerifiedAt string               `json:"verified_at,omitempty"`
	VerifiedBy string               `json:"verified_by,omitempty"`
}

// IsVerified reports whether at least one user has saved an annotation.
func (r *Record) IsVerified() bool {
	return r != nil && len(r.ByUser) > 0
}

// AnnotatedBy reports whether user has a saved annotation on this record.
func (r *Record) AnnotatedBy(user string) bool {
	if r == nil {
		return false
	}
	_, ok := r.ByUser[user]
	return ok
}

// Entry returns the saved entry for user, if any.
func (r *Record) Entry(user string) (UserEntry, bool) {
	if r == nil {
		return UserEntry{}, false
	}
	e, ok := r.ByUser[user]
	return e, ok
}

// Timestamp formats t the way records store it.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// sameValues compares by canonical JSON so that values decoded from disk
// (float64 numbers) equal freshly submitted ones (int numbers).
func sameValues(a, b Values) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
