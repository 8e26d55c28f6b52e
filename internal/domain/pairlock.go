package domain

import "time"

// GlobalLockPair is the wildcard pair that locks entries on every pair.
const GlobalLockPair = "*"

// PairLock bans new entries on Pair until LockEndTime.
type PairLock struct {
	ID          int64     `json:"id"`
	Pair        string    `json:"pair"`
	LockTime    time.Time `json:"lock_time"`
	LockEndTime time.Time `json:"lock_end_time"`
	Reason      string    `json:"reason"`
	Active      bool      `json:"active"`
}

// IsGlobal reports whether the lock applies to all pairs.
func (l *PairLock) IsGlobal() bool { return l.Pair == GlobalLockPair }

// IsActiveAt reports whether the lock still blocks entries at t.
func (l *PairLock) IsActiveAt(t time.Time) bool {
	return l.Active && t.Before(l.LockEndTime)
}

// Covers reports whether the lock applies to pair.
func (l *PairLock) Covers(pair string) bool {
	return l.IsGlobal() || l.Pair == pair
}

// LockDecision is what a protection policy asks the manager to apply.
type LockDecision struct {
	Pair   string // GlobalLockPair for a global lock
	Until  time.Time
	Reason string
}
