package tracking

import (
	"image/color"
)

// Record is the pursuit state of one identity.
type Record struct {
	InTracking bool // current pursuit target
	Tracked    bool // centered and accepted; never pursued again
	Color      color.RGBA
}

// Session holds the identity records for one elevation band. At most one
// record is in tracking at any time, and a tracked record never returns to
// tracking.
type Session struct {
	records map[ID]*Record
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{records: make(map[ID]*Record)}
}

// Sync drops records whose identities are absent from lights and creates
// default records for new identities.
func (s *Session) Sync(lights []Light) {
	seen := make(map[ID]struct{}, len(lights))
	for _, l := range lights {
		seen[l.ID] = struct{}{}
		if _, ok := s.records[l.ID]; !ok {
			s.records[l.ID] = &Record{Color: colorFor(l.ID)}
		}
	}
	for id := range s.records {
		if _, ok := seen[id]; !ok {
			delete(s.records, id)
		}
	}
}

// Record returns a copy of the record for id.
func (s *Session) Record(id ID) (Record, bool) {
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Begin marks id as the pursuit target. It reports false when id is unknown,
// already tracked, or another identity is in tracking.
func (s *Session) Begin(id ID) bool {
	r, ok := s.records[id]
	if !ok || r.Tracked {
		return false
	}
	for other, rec := range s.records {
		if other != id && rec.InTracking {
			return false
		}
	}
	r.InTracking = true
	return true
}

// Complete marks id as tracked and releases it from pursuit.
func (s *Session) Complete(id ID) {
	if r, ok := s.records[id]; ok {
		r.InTracking = false
		r.Tracked = true
	}
}

// Release ends the pursuit of id without marking it tracked, so it may be
// selected again.
func (s *Session) Release(id ID) {
	if r, ok := s.records[id]; ok {
		r.InTracking = false
	}
}

// Target returns the light in lights whose identity is in tracking.
func (s *Session) Target(lights []Light) (Light, bool) {
	for _, l := range lights {
		if r, ok := s.records[l.ID]; ok && r.InTracking {
			return l, true
		}
	}
	return Light{}, false
}

// Pursuing reports whether any record is in tracking.
func (s *Session) Pursuing() bool {
	for _, r := range s.records {
		if r.InTracking {
			return true
		}
	}
	return false
}

// Untracked returns the lights whose identities have not been tracked yet,
// in input order.
func (s *Session) Untracked(lights []Light) []Light {
	var out []Light
	for _, l := range lights {
		if r, ok := s.records[l.ID]; ok && !r.Tracked {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of live records.
func (s *Session) Len() int {
	return len(s.records)
}

// Reset drops all records.
func (s *Session) Reset() {
	s.records = make(map[ID]*Record)
}

// colorFor derives a display colour from the identity, each channel in
// [100, 255].
func colorFor(id ID) color.RGBA {
	h := uint64(id) * 0x9E3779B97F4A7C15
	return color.RGBA{
		R: uint8(100 + (h>>8)%156),
		G: uint8(100 + (h>>24)%156),
		B: uint8(100 + (h>>40)%156),
		A: 0xff,
	}
}
