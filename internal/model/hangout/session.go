package hangout

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// State tracks where a session is in the planning conversation.
type State string

const (
	StateCollecting State = "collecting_info"
	StatePlanReady  State = "plan_ready"
	StateFinalized  State = "finalized"
)

// Session is a shareable planning conversation. It is plain data; callers
// are responsible for serialising access.
type Session struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"createdAt"`
	State         State         `json:"state"`
	Messages      []Message     `json:"messages"`
	Participants  []Participant `json:"participants"`
	Plan          *Plan         `json:"plan"`
	FinalizedPlan *Plan         `json:"finalizedPlan,omitempty"`
	PlanVersion   int           `json:"planVersion"`
	PlanHistory   []Plan        `json:"-"`
}

// NewSession returns an empty session in the collecting state.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		State:        StateCollecting,
		Messages:     make([]Message, 0, 16),
		Participants: make([]Participant, 0, 4),
	}
}

// AppendMessage stores a new transcript entry and returns it.
func (s *Session) AppendMessage(kind MessageKind, sender, text string, now time.Time) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Kind:      kind,
		Text:      text,
		CreatedAt: now,
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// FindParticipant looks a participant up by case-insensitive exact name.
func (s *Session) FindParticipant(name string) (*Participant, bool) {
	key := NormalizeName(name)
	if key == "" {
		return nil, false
	}
	for i := range s.Participants {
		if NormalizeName(s.Participants[i].Name) == key {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// ParticipantByID returns the participant with the given identifier.
func (s *Session) ParticipantByID(id string) (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// ApplyUpdate merges u into the participant called name, creating it when
// no participant with that name exists yet. It reports whether the
// participant was created and whether its attributes changed.
func (s *Session) ApplyUpdate(name string, u ParticipantUpdate, now time.Time) (p Participant, created, changed bool) {
	if existing, ok := s.FindParticipant(name); ok {
		changed = existing.Merge(u, now)
		return existing.clone(), false, changed
	}

	p = Participant{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Fresh:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Merge(u, now)
	s.Participants = append(s.Participants, p)
	return p.clone(), true, true
}

// SetGeocode records a geocoding result for participant id. The result is
// dropped when the participant moved to another location in the meantime.
func (s *Session) SetGeocode(id, location string, res GeocodeResult) bool {
	p, ok := s.ParticipantByID(id)
	if !ok || !strings.EqualFold(p.HomeLocation, location) {
		return false
	}
	c := res.Coordinate
	p.Coordinate = &c
	p.FormattedAddress = res.FormattedAddress
	return true
}

// CommitPlan versions the draft and makes it the current plan.
func (s *Session) CommitPlan(draft PlanDraft, notes []string, centroid *Coordinate, now time.Time) Plan {
	names := make([]string, 0, len(s.Participants))
	for i := range s.Participants {
		names = append(names, s.Participants[i].Name)
		s.Participants[i].Fresh = false
	}

	s.PlanVersion++
	plan := Plan{
		Version:             s.PlanVersion,
		Venues:              append([]Venue(nil), draft.Venues...),
		Confidence:          ConfidenceFor(len(s.Participants)),
		Reasoning:           draft.Reasoning,
		ParticipantAnalysis: draft.ParticipantAnalysis,
		ContributorSummary:  draft.ContributorSummary,
		Notes:               append([]string(nil), notes...),
		Centroid:            centroid,
		Participants:        names,
		GeneratedAt:         now,
	}

	s.Plan = plan.clone()
	s.PlanHistory = append(s.PlanHistory, plan)
	if s.State != StateFinalized {
		s.State = StatePlanReady
	}
	return plan
}

// Finalize locks the current plan. It reports false when there is none.
func (s *Session) Finalize() bool {
	if s.Plan == nil {
		return false
	}
	s.FinalizedPlan = s.Plan.clone()
	s.State = StateFinalized
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		out.Participants[i] = p.clone()
	}
	out.Plan = s.Plan.clone()
	out.FinalizedPlan = s.FinalizedPlan.clone()
	out.PlanHistory = make([]Plan, len(s.PlanHistory))
	for i := range s.PlanHistory {
		out.PlanHistory[i] = *s.PlanHistory[i].clone()
	}
	return out
}
