// Package sensor keeps the latest environment reading reported by each tote.
package sensor

import (
	"strconv"
	"sync"
	"time"
)

type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// UnknownLocation is reported when a device sends no location label.
const UnknownLocation = "Unknown"

// Reading is the latest report from one tote. Channels the device did not
// send stay nil.
type Reading struct {
	ToteID      string    `json:"id"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	Lux         *float64  `json:"lux"`
	Battery     *float64  `json:"battery,omitempty"`
	Status      Status    `json:"status"`
	Location    string    `json:"location"`
	Coords      string    `json:"coords"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Classify grades a reading. Channels are checked in the order temperature,
// humidity, lux and the first one outside its normal band decides.
func Classify(temperature, humidity, lux *float64) Status {
	if t := temperature; t != nil {
		if *t < -5 || *t > 60 {
			return StatusCritical
		}
		if *t < 0 || *t > 25 {
			return StatusWarning
		}
	}
	if h := humidity; h != nil {
		if *h > 90 {
			return StatusCritical
		}
		if *h > 70 {
			return StatusWarning
		}
	}
	if l := lux; l != nil {
		if *l > 1000 {
			return StatusCritical
		}
		if *l >= 300 {
			return StatusWarning
		}
	}
	return StatusNormal
}

// FormatCoords renders "lat,lon", or "" unless both are present and non-zero.
func FormatCoords(lat, lon *float64) string {
	if lat == nil || lon == nil || *lat == 0 || *lon == 0 {
		return ""
	}
	return strconv.FormatFloat(*lat, 'f', -1, 64) + "," + strconv.FormatFloat(*lon, 'f', -1, 64)
}

// Store holds the last reading per tote.
type Store struct {
	mu     sync.RWMutex
	latest map[string]Reading
	now    func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{latest: make(map[string]Reading), now: now}
}

// Upsert classifies r, stamps it and replaces the tote's previous reading.
func (s *Store) Upsert(r Reading) Reading {
	r.Status = Classify(r.Temperature, r.Humidity, r.Lux)
	if r.Location == "" {
		r.Location = UnknownLocation
	}
	r.ReceivedAt = s.now().UTC()
	s.mu.Lock()
	s.latest[r.ToteID] = r
	s.mu.Unlock()
	return r
}

// Snapshot returns a copy of all readings keyed by tote id.
func (s *Store) Snapshot() map[string]Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Reading, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}
