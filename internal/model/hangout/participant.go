package hangout

import (
	"strings"
	"time"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Participant captures what the group knows about one person.
type Participant struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	HomeLocation     string      `json:"homeLocation,omitempty"`
	FormattedAddress string      `json:"formattedAddress,omitempty"`
	Coordinate       *Coordinate `json:"coordinate,omitempty"`
	Cuisines         []string    `json:"cuisines,omitempty"`
	Dietary          []string    `json:"dietary,omitempty"`
	// Fresh is set whenever attributes change and cleared once a plan has
	// taken them into account.
	Fresh     bool      `json:"fresh"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ParticipantUpdate is the fixed set of attributes extraction can yield.
// Nil / empty fields leave the participant untouched.
type ParticipantUpdate struct {
	Name         string   `json:"name,omitempty"`
	HomeLocation *string  `json:"homeLocation,omitempty"`
	Cuisines     []string `json:"cuisines,omitempty"`
	Dietary      []string `json:"dietary,omitempty"`
}

// Empty reports whether the update carries no attributes besides the name.
func (u ParticipantUpdate) Empty() bool {
	return (u.HomeLocation == nil || strings.TrimSpace(*u.HomeLocation) == "") &&
		len(u.Cuisines) == 0 && len(u.Dietary) == 0
}

// Merge applies u to p and reports whether anything changed.
func (p *Participant) Merge(u ParticipantUpdate, now time.Time) bool {
	changed := false

	if u.HomeLocation != nil {
		loc := strings.TrimSpace(*u.HomeLocation)
		if loc != "" && !strings.EqualFold(loc, p.HomeLocation) {
			p.HomeLocation = loc
			p.FormattedAddress = ""
			p.Coordinate = nil
			changed = true
		}
	}

	var added bool
	if p.Cuisines, added = unionFold(p.Cuisines, u.Cuisines); added {
		changed = true
	}
	if p.Dietary, added = unionFold(p.Dietary, u.Dietary); added {
		changed = true
	}

	if changed {
		p.Fresh = true
		p.UpdatedAt = now
	}
	return changed
}

// Summary renders a one-line description used in prompts and agent replies.
func (p Participant) Summary() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if loc := p.Location(); loc != "" {
		b.WriteString(" from ")
		b.WriteString(loc)
	}
	if len(p.Cuisines) > 0 {
		b.WriteString(", likes ")
		b.WriteString(strings.Join(p.Cuisines, ", "))
	}
	if len(p.Dietary) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(p.Dietary, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Location prefers the geocoded address over the raw text.
func (p Participant) Location() string {
	if p.FormattedAddress != "" {
		return p.FormattedAddress
	}
	return p.HomeLocation
}

func (p Participant) clone() Participant {
	out := p
	if p.Coordinate != nil {
		c := *p.Coordinate
		out.Coordinate = &c
	}
	out.Cuisines = append([]string(nil), p.Cuisines...)
	out.Dietary = append([]string(nil), p.Dietary...)
	return out
}

// unionFold appends values not already present (case-insensitive) and keeps
// insertion order.
func unionFold(existing, incoming []string) ([]string, bool) {
	added := false
	for _, raw := range incoming {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		dup := false
		for _, e := range existing {
			if strings.EqualFold(e, v) {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, v)
			added = true
		}
	}
	return existing, added
}

// NormalizeName is the key used for participant matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GeocodeResult is a resolved location.
type GeocodeResult struct {
	Coordinate       Coordinate `json:"coordinate"`
	FormattedAddress string     `json:"formattedAddress"`
}
