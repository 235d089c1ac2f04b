package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/observability"
	"github.com/zhouzirui/hangout/backend/internal/service/feed"
	"github.com/zhouzirui/hangout/backend/internal/service/session"
)

// ErrEmptyMessage is returned for messages without text.
var ErrEmptyMessage = errors.New("message text is required")

// Extractor turns free text into participant attributes.
type Extractor interface {
	Extract(ctx context.Context, text string, known *hangout.Participant) (hangout.ParticipantUpdate, error)
}

// Planner drafts venue recommendations for a group.
type Planner interface {
	GeneratePlan(ctx context.Context, req hangout.PlanRequest) (hangout.PlanDraft, error)
}

// Geocoder resolves free-form addresses.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (hangout.GeocodeResult, error)
}

// VenueFinder lists candidate venues around a point.
type VenueFinder interface {
	NearbyVenues(ctx context.Context, center hangout.Coordinate, keyword string) ([]hangout.Venue, error)
}

// Responder writes a conversational reply to a message, given the
// transcript that preceded it.
type Responder interface {
	Respond(ctx context.Context, history []hangout.Message, sender, text string) (string, error)
}

// Publisher receives session state changes.
type Publisher interface {
	Publish(sessionID, eventType string, data any)
}

// Dependencies are the collaborators of an Orchestrator. Responder,
// Geocoder, Venues, Publisher, Metrics and Logger are optional; a nil
// pointer stored in one of the optional interfaces counts as absent.
type Dependencies struct {
	Sessions  *session.Registry
	Extractor Extractor
	Planner   Planner
	Responder Responder
	Geocoder  Geocoder
	Venues    VenueFinder
	Publisher Publisher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Config tunes orchestration behaviour.
type Config struct {
	// AutoPlanThreshold is the participant count from which a participant
	// change regenerates the plan. Zero disables it.
	AutoPlanThreshold int
	// HistoryWindow is how many earlier transcript entries the responder
	// sees. Defaults to 20.
	HistoryWindow int
	Now           func() time.Time
}

// Orchestrator drives a session from raw messages to versioned plans.
type Orchestrator struct {
	sessions  *session.Registry
	extractor Extractor
	planner   Planner
	responder Responder
	geocoder  Geocoder
	venues    VenueFinder
	publisher Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       Config
}

// New validates deps and builds an Orchestrator.
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session registry is required")
	case isNil(deps.Extractor):
		return nil, fmt.Errorf("extractor is required")
	case isNil(deps.Planner):
		return nil, fmt.Errorf("planner is required")
	}
	if isNil(deps.Responder) {
		deps.Responder = nil
	}
	if isNil(deps.Geocoder) {
		deps.Geocoder = nil
	}
	if isNil(deps.Venues) {
		deps.Venues = nil
	}
	if isNil(deps.Publisher) {
		deps.Publisher = nil
	}
	if cfg.AutoPlanThreshold < 0 {
		return nil, fmt.Errorf("auto plan threshold must not be negative")
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		sessions:  deps.Sessions,
		extractor: deps.Extractor,
		planner:   deps.Planner,
		responder: deps.Responder,
		geocoder:  deps.Geocoder,
		venues:    deps.Venues,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// MessageInput is one chat line from a participant.
type MessageInput struct {
	Sender string
	Text   string
	// Finalize asks for a fresh plan that is then locked.
	Finalize bool
}

// MessageResult describes what a message did to the session.
type MessageResult struct {
	Message     hangout.Message
	Replies     []hangout.Message
	Participant *hangout.Participant
	Created     bool
	Changed     bool
	Plan        *hangout.Plan
	Finalized   bool
	// PlanError is set when a triggered regeneration failed. The message
	// itself was still processed.
	PlanError error
}

// HandleMessage records a message, merges the extracted attributes into the
// matching participant and regenerates the plan when finalize was requested
// or the auto threshold is met.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, in MessageInput) (*MessageResult, error) {
	text := strings.TrimSpace(in.Text)
	sender := strings.TrimSpace(in.Sender)
	if text == "" {
		o.countMessage("invalid")
		return nil, ErrEmptyMessage
	}

	entry, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		o.countMessage("invalid")
		return nil, err
	}

	entry.Lock()
	defer entry.Unlock()

	logger := o.logger.With(zap.String("session_id", sessionID), zap.String("sender", sender))
	result := &MessageResult{}

	var known *hangout.Participant
	entry.Update(func(s *hangout.Session) {
		result.Message = s.AppendMessage(hangout.KindUser, senderLabel(sender), text, o.cfg.Now())
		if p, ok := s.FindParticipant(sender); ok {
			snapshot := *p
			known = &snapshot
		}
	})
	o.publish(sessionID, feed.EventMessage, result.Message)

	update, err := o.extractor.Extract(ctx, text, known)
	if err != nil {
		logger.Warn("attribute extraction failed", zap.Error(err))
		reply := o.reply(entry, hangout.KindSystem, "Sorry, I couldn't read that message. Could you rephrase it?")
		o.publish(sessionID, feed.EventError, map[string]string{"kind": hangout.ErrorKind(err), "error": err.Error()})
		o.publish(sessionID, feed.EventMessage, reply)
		o.countMessage(hangout.ErrorKind(err))
		return nil, fmt.Errorf("extract attributes: %w", err)
	}

	name := strings.TrimSpace(update.Name)
	if name == "" {
		name = sender
	}
	if name == "" {
		reply := o.reply(entry, hangout.KindAgent, "Who's this? Tell me your name so I can add you to the plan.")
		result.Replies = append(result.Replies, reply)
		o.publish(sessionID, feed.EventMessage, reply)
		o.countMessage("anonymous")
		return result, nil
	}

	var (
		participant hangout.Participant
		count       int
	)
	entry.Update(func(s *hangout.Session) {
		participant, result.Created, result.Changed = s.ApplyUpdate(name, update, o.cfg.Now())
		count = len(s.Participants)
	})
	result.Participant = &participant

	if result.Created {
		logger.Info("participant added", zap.String("participant_id", participant.ID), zap.String("name", participant.Name))
		if o.metrics != nil {
			o.metrics.ParticipantsCreated.Inc()
		}
	}
	if result.Changed {
		o.publish(sessionID, feed.EventParticipant, participant)
	}

	if text := o.converse(ctx, entry, result.Message, logger); text != "" {
		chat := o.reply(entry, hangout.KindAgent, text)
		result.Replies = append(result.Replies, chat)
		o.publish(sessionID, feed.EventMessage, chat)
	}

	ack := o.reply(entry, hangout.KindAgent, acknowledgement(participant, result.Created, result.Changed))
	result.Replies = append(result.Replies, ack)
	o.publish(sessionID, feed.EventMessage, ack)

	auto := o.cfg.AutoPlanThreshold > 0 && count >= o.cfg.AutoPlanThreshold && result.Changed
	if in.Finalize || auto {
		plan, err := o.regenerateLocked(ctx, entry)
		if err != nil {
			result.PlanError = err
			notice := o.reply(entry, hangout.KindSystem, planFailureText(err))
			result.Replies = append(result.Replies, notice)
			o.publish(sessionID, feed.EventMessage, notice)
		} else {
			result.Plan = &plan
			if in.Finalize {
				result.Finalized = o.finalizeLocked(entry)
			}
		}
	}

	o.countMessage("ok")
	return result, nil
}

// RegeneratePlan builds a new plan version from the current participants.
func (o *Orchestrator) RegeneratePlan(ctx context.Context, sessionID string) (hangout.Plan, error) {
	entry, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return hangout.Plan{}, err
	}

	entry.Lock()
	defer entry.Unlock()
	return o.regenerateLocked(ctx, entry)
}

// FinalizePlan regenerates the plan and locks it as the final one.
func (o *Orchestrator) FinalizePlan(ctx context.Context, sessionID string) (hangout.Plan, error) {
	entry, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return hangout.Plan{}, err
	}

	entry.Lock()
	defer entry.Unlock()

	plan, err := o.regenerateLocked(ctx, entry)
	if err != nil {
		return hangout.Plan{}, err
	}
	o.finalizeLocked(entry)
	return plan, nil
}

// regenerateLocked must be called with the entry's operation lock held.
func (o *Orchestrator) regenerateLocked(ctx context.Context, entry *session.Entry) (hangout.Plan, error) {
	start := time.Now()
	sessionID := entry.ID()
	logger := o.logger.With(zap.String("session_id", sessionID))

	snapshot := entry.Snapshot()
	if len(snapshot.Participants) == 0 {
		o.countRegeneration(hangout.ErrInsufficientData)
		return hangout.Plan{}, fmt.Errorf("%w: session %s has no participants yet", hangout.ErrInsufficientData, sessionID)
	}

	participants, notes := o.locate(ctx, entry, snapshot.Participants, logger)

	coords := make([]hangout.Coordinate, 0, len(participants))
	for _, p := range participants {
		if p.Coordinate != nil {
			coords = append(coords, *p.Coordinate)
		}
	}
	centroid := hangout.Centroid(coords)

	var candidates []hangout.Venue
	if o.venues != nil && centroid != nil {
		found, err := o.venues.NearbyVenues(ctx, *centroid, "")
		if err != nil {
			logger.Warn("nearby venue lookup failed", zap.Error(err))
		} else {
			candidates = found
		}
	}

	draft, err := o.planner.GeneratePlan(ctx, hangout.PlanRequest{
		Participants: participants,
		Centroid:     centroid,
		Candidates:   candidates,
		Previous:     snapshot.Plan,
		Notes:        notes,
	})
	if err != nil {
		logger.Warn("plan generation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		o.countRegeneration(err)
		o.publish(sessionID, feed.EventError, map[string]string{"kind": hangout.ErrorKind(err), "error": err.Error()})
		return hangout.Plan{}, fmt.Errorf("generate plan: %w", err)
	}

	var (
		plan  hangout.Plan
		reply hangout.Message
	)
	entry.Update(func(s *hangout.Session) {
		now := o.cfg.Now()
		plan = s.CommitPlan(draft, notes, centroid, now)
		reply = s.AppendMessage(hangout.KindAgent, hangout.AgentSender, planSummary(plan), now)
	})

	logger.Info("plan regenerated",
		zap.Int("version", plan.Version),
		zap.Int("participants", len(plan.Participants)),
		zap.Int("venues", len(plan.Venues)),
		zap.Int("candidates", len(candidates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	o.countRegeneration(nil)
	o.publish(sessionID, feed.EventPlan, plan)
	o.publish(sessionID, feed.EventMessage, reply)
	return plan, nil
}

// locate geocodes participants that have a location but no coordinate yet.
// Failures only add a note.
func (o *Orchestrator) locate(ctx context.Context, entry *session.Entry, participants []hangout.Participant, logger *zap.Logger) ([]hangout.Participant, []string) {
	var notes []string
	for i := range participants {
		p := &participants[i]
		switch {
		case p.Coordinate != nil:
			continue
		case p.HomeLocation == "":
			notes = append(notes, fmt.Sprintf("%s: no location shared yet; excluded from the meeting-point estimate", p.Name))
			continue
		case o.geocoder == nil:
			continue
		}

		res, err := o.geocoder.Geocode(ctx, p.HomeLocation)
		if err != nil {
			logger.Warn("geocoding failed",
				zap.String("participant", p.Name),
				zap.String("location", p.HomeLocation),
				zap.Error(err),
			)
			reason := "could not be geocoded"
			if errors.Is(err, hangout.ErrNotFound) {
				reason = "could not be found"
			}
			notes = append(notes, fmt.Sprintf("%s: location %q %s; excluded from the meeting-point estimate", p.Name, p.HomeLocation, reason))
			continue
		}

		c := res.Coordinate
		p.Coordinate = &c
		p.FormattedAddress = res.FormattedAddress
		location := p.HomeLocation
		id := p.ID
		entry.Update(func(s *hangout.Session) {
			s.SetGeocode(id, location, res)
		})
	}
	return participants, notes
}

func (o *Orchestrator) finalizeLocked(entry *session.Entry) bool {
	var (
		ok    bool
		plan  hangout.Plan
		reply hangout.Message
	)
	entry.Update(func(s *hangout.Session) {
		if ok = s.Finalize(); ok {
			plan = *s.FinalizedPlan
			reply = s.AppendMessage(hangout.KindAgent, hangout.AgentSender, finalizedText(plan), o.cfg.Now())
		}
	})
	if ok {
		o.publish(entry.ID(), feed.EventFinalized, plan)
		o.publish(entry.ID(), feed.EventMessage, reply)
	}
	return ok
}

// converse asks the responder for a chat reply to msg. Failures are logged
// and yield "", leaving the fixed acknowledgement as the only reply.
func (o *Orchestrator) converse(ctx context.Context, entry *session.Entry, msg hangout.Message, logger *zap.Logger) string {
	if o.responder == nil {
		return ""
	}

	var history []hangout.Message
	entry.Read(func(s *hangout.Session) {
		// The transcript ends with msg itself.
		prior := s.Messages[:len(s.Messages)-1]
		if len(prior) > o.cfg.HistoryWindow {
			prior = prior[len(prior)-o.cfg.HistoryWindow:]
		}
		history = append([]hangout.Message(nil), prior...)
	})

	text, err := o.responder.Respond(ctx, history, msg.Sender, msg.Text)
	if err != nil {
		logger.Warn("conversational reply failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

func (o *Orchestrator) reply(entry *session.Entry, kind hangout.MessageKind, text string) hangout.Message {
	var msg hangout.Message
	entry.Update(func(s *hangout.Session) {
		msg = s.AppendMessage(kind, hangout.AgentSender, text, o.cfg.Now())
	})
	return msg
}

func (o *Orchestrator) publish(sessionID, eventType string, data any) {
	if o.publisher != nil {
		o.publisher.Publish(sessionID, eventType, data)
	}
}

func (o *Orchestrator) countMessage(outcome string) {
	if o.metrics != nil {
		o.metrics.MessagesHandled.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countRegeneration(err error) {
	if o.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = hangout.ErrorKind(err)
	}
	o.metrics.PlanRegenerations.WithLabelValues(outcome).Inc()
}

// isNil reports whether v is nil or an interface holding a nil pointer.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
