package annotation

import "time"

// Reconcile merges user's values into the record and reports whether
// anything changed. Identical values leave the record untouched.
//
// On change the user's entry is replaced and the aggregate verified flag,
// timestamp and verifier are overwritten with this save. VerifiedBy is
// last-writer-wins across users; earlier annotators stay in ByUser but lose
// the attribution.
func (r *Record) Reconcile(user string, values Values, now time.Time) bool {
	if prev, ok := r.ByUser[user]; ok && sameValues(prev.Data, values) {
		return false
	}

	if r.ByUser == nil {
		r.ByUser = make(map[string]UserEntry)
	}

	ts := Timestamp(now)
	r.ByUser[user] = UserEntry{
		Data:      values,
		UpdatedAt: ts,
	}
	r.Verified = true
	r.VerifiedAt = ts
	r.VerifiedBy = user

	return true
}
