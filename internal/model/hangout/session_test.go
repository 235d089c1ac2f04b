package hangout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

var epoch = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

func TestApplyUpdateCreatesOnceAndKeepsID(t *testing.T) {
	s := NewSession("abc12345", epoch)

	first, created, changed := s.ApplyUpdate("Alex", ParticipantUpdate{HomeLocation: strPtr("Mission District")}, epoch)
	require.True(t, created)
	require.True(t, changed)
	require.NotEmpty(t, first.ID)

	for i, name := range []string{"alex", "ALEX", " Alex "} {
		p, created, changed := s.ApplyUpdate(name, ParticipantUpdate{Cuisines: []string{fmt.Sprintf("dish-%d", i)}}, epoch)
		assert.False(t, created, "name %q should match existing participant", name)
		assert.True(t, changed)
		assert.Equal(t, first.ID, p.ID)
	}

	require.Len(t, s.Participants, 1)
	assert.Equal(t, []string{"dish-0", "dish-1", "dish-2"}, s.Participants[0].Cuisines)
}

func TestApplyUpdateReportsNoChange(t *testing.T) {
	s := NewSession("abc12345", epoch)
	s.ApplyUpdate("Alex", ParticipantUpdate{Cuisines: []string{"Italian"}}, epoch)

	_, created, changed := s.ApplyUpdate("alex", ParticipantUpdate{Cuisines: []string{"ITALIAN"}}, epoch)
	assert.False(t, created)
	assert.False(t, changed)
}

func TestSetGeocodeIgnoresStaleLocation(t *testing.T) {
	s := NewSession("abc12345", epoch)
	p, _, _ := s.ApplyUpdate("Alex", ParticipantUpdate{HomeLocation: strPtr("Mission District")}, epoch)
	res := GeocodeResult{Coordinate: Coordinate{Lat: 37.76, Lng: -122.42}, FormattedAddress: "Mission District, San Francisco"}

	assert.False(t, s.SetGeocode(p.ID, "Marina District", res))
	assert.Nil(t, s.Participants[0].Coordinate)

	require.True(t, s.SetGeocode(p.ID, "mission district", res))
	assert.Equal(t, res.Coordinate, *s.Participants[0].Coordinate)
	assert.Equal(t, "Mission District, San Francisco", s.Participants[0].Location())
}

func TestMergeUnionsPreferencesCaseInsensitively(t *testing.T) {
	p := Participant{Name: "Alex", Cuisines: []string{"Italian"}, Dietary: []string{"vegetarian"}}

	changed := p.Merge(ParticipantUpdate{
		Cuisines: []string{"italian", "Thai", " "},
		Dietary:  []string{"Vegetarian"},
	}, epoch)

	assert.True(t, changed)
	assert.Equal(t, []string{"Italian", "Thai"}, p.Cuisines)
	assert.Equal(t, []string{"vegetarian"}, p.Dietary)
	assert.True(t, p.Fresh)
}

func TestMergeLocationChangeClearsCoordinate(t *testing.T) {
	p := Participant{
		Name:             "Jordan",
		HomeLocation:     "Marina District",
		FormattedAddress: "Marina District, San Francisco, CA",
		Coordinate:       &Coordinate{Lat: 37.80, Lng: -122.43},
	}

	assert.False(t, p.Merge(ParticipantUpdate{HomeLocation: strPtr("marina district")}, epoch))
	assert.NotNil(t, p.Coordinate)

	assert.True(t, p.Merge(ParticipantUpdate{HomeLocation: strPtr("Oakland")}, epoch))
	assert.Equal(t, "Oakland", p.HomeLocation)
	assert.Nil(t, p.Coordinate)
	assert.Empty(t, p.FormattedAddress)
}

func TestCommitPlanIncrementsVersionAndClearsFreshness(t *testing.T) {
	s := NewSession("abc12345", epoch)
	s.ApplyUpdate("Alex", ParticipantUpdate{Cuisines: []string{"Italian"}}, epoch)
	s.ApplyUpdate("Jordan", ParticipantUpdate{Cuisines: []string{"Asian"}}, epoch)

	draft := PlanDraft{Venues: []Venue{{Name: "Fog Harbor"}}, Reasoning: "midpoint"}
	first := s.CommitPlan(draft, nil, nil, epoch)
	second := s.CommitPlan(draft, []string{"note"}, nil, epoch)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 2, s.PlanVersion)
	assert.Equal(t, ConfidenceMedium, second.Confidence)
	assert.Equal(t, []string{"Alex", "Jordan"}, second.Participants)
	assert.Len(t, s.PlanHistory, 2)
	assert.Equal(t, StatePlanReady, s.State)
	for _, p := range s.Participants {
		assert.False(t, p.Fresh)
	}
}

func TestFinalizeRequiresPlan(t *testing.T) {
	s := NewSession("abc12345", epoch)
	assert.False(t, s.Finalize())
	assert.Equal(t, StateCollecting, s.State)

	s.ApplyUpdate("Alex", ParticipantUpdate{}, epoch)
	s.CommitPlan(PlanDraft{Venues: []Venue{{Name: "A"}}}, nil, nil, epoch)
	require.True(t, s.Finalize())
	assert.Equal(t, StateFinalized, s.State)
	assert.Equal(t, 1, s.FinalizedPlan.Version)

	s.CommitPlan(PlanDraft{Venues: []Venue{{Name: "B"}}}, nil, nil, epoch)
	assert.Equal(t, StateFinalized, s.State)
	assert.Equal(t, "A", s.FinalizedPlan.Venues[0].Name)
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSession("abc12345", epoch)
	s.ApplyUpdate("Alex", ParticipantUpdate{Cuisines: []string{"Italian"}}, epoch)
	s.AppendMessage(KindUser, "Alex", "hi", epoch)
	s.CommitPlan(PlanDraft{Venues: []Venue{{Name: "A"}}}, nil, &Coordinate{Lat: 1, Lng: 2}, epoch)

	c := s.Clone()
	c.Participants[0].Cuisines[0] = "changed"
	c.Plan.Venues[0].Name = "changed"
	c.Plan.Centroid.Lat = 99
	c.Messages[0].Text = "changed"

	assert.Equal(t, "Italian", s.Participants[0].Cuisines[0])
	assert.Equal(t, "A", s.Plan.Venues[0].Name)
	assert.Equal(t, 1.0, s.Plan.Centroid.Lat)
	assert.Equal(t, "hi", s.Messages[0].Text)
}

func TestConfidenceFor(t *testing.T) {
	cases := map[int]Confidence{0: ConfidenceLow, 1: ConfidenceLow, 2: ConfidenceMedium, 3: ConfidenceMedium, 4: ConfidenceHigh, 9: ConfidenceHigh}
	for n, want := range cases {
		assert.Equal(t, want, ConfidenceFor(n), "n=%d", n)
	}
}

func TestCentroid(t *testing.T) {
	assert.Nil(t, Centroid(nil))
	c := Centroid([]Coordinate{{Lat: 10, Lng: 20}, {Lat: 20, Lng: 40}})
	require.NotNil(t, c)
	assert.InDelta(t, 15, c.Lat, 1e-9)
	assert.InDelta(t, 30, c.Lng, 1e-9)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "timeout", ErrorKind(fmt.Errorf("%w: %w", ErrExtraction, ErrTimeout)))
	assert.Equal(t, "extraction_error", ErrorKind(fmt.Errorf("wrap: %w", ErrExtraction)))
	assert.Equal(t, "insufficient_data", ErrorKind(ErrInsufficientData))
	assert.Equal(t, "geocoding_failure", ErrorKind(ErrNotFound))
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "canceled", ErrorKind(fmt.Errorf("llm: %w", context.Canceled)))
}
