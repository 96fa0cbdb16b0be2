// Package record owns the canonical in-memory mirror of production records
// and all record mutations. The Store is the only component allowed to touch
// the cache; everyone else reads through Subscribe or Snapshot.
package record

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Shift is the closed set of work shifts.
type Shift string

const (
	ShiftMorning   Shift = "morning"
	ShiftAfternoon Shift = "afternoon"
	ShiftNight     Shift = "night"
)

// Shifts lists every valid shift.
var Shifts = []Shift{ShiftMorning, ShiftAfternoon, ShiftNight}

// Machines is the closed set of loom identifiers on the floor.
var Machines = []string{"WH1", "WH2", "WH3", "WH4", "SL1", "SL2"}

// Bosses is the closed set of shift bosses.
var Bosses = []string{"Garcia", "Lopez", "Serrano"}

// Record is one submitted production-shift measurement. A record is mutable
// only by full replace under the same ID; there is no partial patch.
type Record struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	Date           string    `json:"date"` // calendar date YYYY-MM-DD, a filter dimension independent of CreatedAt
	Machine        string    `json:"machine"`
	Shift          Shift     `json:"shift"`
	Boss           string    `json:"boss"`
	Operator       string    `json:"operator,omitempty"`
	Meters         int       `json:"meters"`
	Changes        int       `json:"changes"`
	ChangesComment string    `json:"changesComment,omitempty"`
}

// nowFunc is swapped by tests that need deterministic timestamps.
var nowFunc = time.Now

// NewID returns a fresh record identifier.
func NewID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return "rec_" + hex.EncodeToString(bytes)
}

// ValidMachine reports whether m is a member of the closed machine set.
func ValidMachine(m string) bool {
	for _, cand := range Machines {
		if cand == m {
			return true
		}
	}
	return false
}

// ValidShift reports whether s is a member of the closed shift set.
func ValidShift(s Shift) bool {
	for _, cand := range Shifts {
		if cand == s {
			return true
		}
	}
	return false
}

// ValidBoss reports whether b is a member of the closed boss set.
func ValidBoss(b string) bool {
	for _, cand := range Bosses {
		if cand == b {
			return true
		}
	}
	return false
}
