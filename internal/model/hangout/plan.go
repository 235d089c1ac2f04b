package hangout

import "time"

// Confidence is derived purely from how many people the plan covers.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

const (
	mediumConfidenceAt = 2
	highConfidenceAt   = 4
)

// ConfidenceFor returns the label for a plan covering n participants.
func ConfidenceFor(n int) Confidence {
	switch {
	case n >= highConfidenceAt:
		return ConfidenceHigh
	case n >= mediumConfidenceAt:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Venue is a single recommendation.
type Venue struct {
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// PlanDraft is what the planner returns before versioning.
type PlanDraft struct {
	Venues              []Venue `json:"venues"`
	Reasoning           string  `json:"reasoning"`
	ParticipantAnalysis string  `json:"participantAnalysis,omitempty"`
	ContributorSummary  string  `json:"contributorSummary,omitempty"`
}

// Plan is an immutable, versioned recommendation set. A new plan replaces
// the old one on every regeneration.
type Plan struct {
	Version             int         `json:"version"`
	Venues              []Venue     `json:"venues"`
	Confidence          Confidence  `json:"confidence"`
	Reasoning           string      `json:"reasoning"`
	ParticipantAnalysis string      `json:"participantAnalysis,omitempty"`
	ContributorSummary  string      `json:"contributorSummary,omitempty"`
	Notes               []string    `json:"notes,omitempty"`
	Centroid            *Coordinate `json:"centroid,omitempty"`
	Participants        []string    `json:"participants"`
	GeneratedAt         time.Time   `json:"generatedAt"`
}

// PlanRequest is the aggregate handed to the planner.
type PlanRequest struct {
	Participants []Participant
	Centroid     *Coordinate
	Candidates   []Venue
	Previous     *Plan
	Notes        []string
}

func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Venues = append([]Venue(nil), p.Venues...)
	out.Notes = append([]string(nil), p.Notes...)
	out.Participants = append([]string(nil), p.Participants...)
	if p.Centroid != nil {
		c := *p.Centroid
		out.Centroid = &c
	}
	return &out
}

// Centroid returns the arithmetic mean of the points, or nil for none.
func Centroid(points []Coordinate) *Coordinate {
	if len(points) == 0 {
		return nil
	}
	var lat, lng float64
	for _, p := range points {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(points))
	return &Coordinate{Lat: lat / n, Lng: lng / n}
}
