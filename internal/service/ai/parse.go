package ai

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
)

var errNoJSON = errors.New("missing json object")

type extractionPayload struct {
	Name            *string  `json:"name"`
	Address         *string  `json:"address"`
	FoodPreferences []string `json:"food_preferences"`
	Constraints     []string `json:"constraints"`
}

type venuePayload struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Rationale string `json:"rationale"`
}

type planPayload struct {
	Venues              []venuePayload `json:"venues"`
	Reasoning           string         `json:"reasoning"`
	ParticipantAnalysis string         `json:"participant_analysis"`
	ContributorSummary  string         `json:"contributor_summary"`

	// Older prompt shape: one recommendation string plus alternatives.
	VenueRecommendation string   `json:"venue_recommendation"`
	ReasoningChain      string   `json:"reasoning_chain"`
	Alternatives        []string `json:"alternatives"`
}

// decodeJSONObject unmarshals the outermost {...} found in content, which
// tolerates models that wrap the object in prose or code fences.
func decodeJSONObject(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return errNoJSON
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), out)
}

func parseExtraction(content string) (hangout.ParticipantUpdate, error) {
	var payload extractionPayload
	if err := decodeJSONObject(content, &payload); err != nil {
		return hangout.ParticipantUpdate{}, err
	}

	update := hangout.ParticipantUpdate{
		Cuisines: cleanList(payload.FoodPreferences),
		Dietary:  cleanList(payload.Constraints),
	}
	if payload.Name != nil {
		if name := strings.TrimSpace(*payload.Name); !isNullish(name) {
			update.Name = name
		}
	}
	if payload.Address != nil {
		if addr := strings.TrimSpace(*payload.Address); addr != "" && !isNullish(addr) {
			update.HomeLocation = &addr
		}
	}
	return update, nil
}

func parsePlan(content string) (hangout.PlanDraft, error) {
	var payload planPayload
	if err := decodeJSONObject(content, &payload); err != nil {
		return hangout.PlanDraft{}, err
	}

	draft := hangout.PlanDraft{
		Reasoning:           firstNonEmpty(payload.Reasoning, payload.ReasoningChain),
		ParticipantAnalysis: strings.TrimSpace(payload.ParticipantAnalysis),
		ContributorSummary:  strings.TrimSpace(payload.ContributorSummary),
	}

	for _, v := range payload.Venues {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			continue
		}
		draft.Venues = append(draft.Venues, hangout.Venue{
			Name:      name,
			Address:   strings.TrimSpace(v.Address),
			Rationale: strings.TrimSpace(v.Rationale),
		})
	}

	if len(draft.Venues) == 0 {
		if rec := strings.TrimSpace(payload.VenueRecommendation); rec != "" {
			draft.Venues = append(draft.Venues, splitRecommendation(rec, draft.Reasoning))
		}
		for _, alt := range cleanList(payload.Alternatives) {
			draft.Venues = append(draft.Venues, splitRecommendation(alt, "alternative"))
		}
	}

	if len(draft.Venues) == 0 {
		return hangout.PlanDraft{}, errors.New("plan contains no venues")
	}
	return draft, nil
}

// splitRecommendation turns "Name - Location" into a venue.
func splitRecommendation(raw, rationale string) hangout.Venue {
	name, addr, _ := strings.Cut(raw, " - ")
	return hangout.Venue{
		Name:      strings.TrimSpace(name),
		Address:   strings.TrimSpace(addr),
		Rationale: strings.TrimSpace(rationale),
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if v := strings.TrimSpace(item); v != "" && !isNullish(v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isNullish(v string) bool {
	switch strings.ToLower(v) {
	case "null", "none", "n/a", "unknown", "no restrictions":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
