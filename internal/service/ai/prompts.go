package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
)

const extractionSystemPrompt = `You extract participant information for group hangout planning.

From the user's message, extract:
- name: the person's name
- address: where they are located (neighborhood, city or specific address)
- food_preferences: kinds of food or cuisines they like
- constraints: dietary restrictions or other hard constraints (vegetarian, halal, no nuts, budget limits)

Return exactly one JSON object and nothing else. Use null for anything the message does not mention.
When existing information is given, only report what the new message adds or changes.

Example:
{"name": "Sarah", "address": "Brooklyn, NY", "food_preferences": ["sushi", "Thai food"], "constraints": ["vegetarian"]}`

const planSystemPrompt = `You create hangout plans for groups of friends.

Consider:
1. The geographic center of the participants' locations and fairness of travel distance
2. Food preferences and how to accommodate everyone
3. Dietary restrictions and constraints, which must never be violated
4. A venue type that works for the group size

Return exactly one JSON object and nothing else, shaped like:
{
  "venues": [
    {"name": "Primary venue", "address": "Street, neighborhood", "rationale": "Why it fits this group"},
    {"name": "Alternative", "address": "...", "rationale": "..."}
  ],
  "reasoning": "Step by step reasoning, including the trade-offs made",
  "participant_analysis": "How each person's needs are met",
  "contributor_summary": "Based on input from ..."
}
List the primary recommendation first and two or three alternatives after it.`

const conversationSystemPrompt = `You are a friendly assistant helping a group of friends plan a hangout together in a shared chat.

Your goals:
1. Welcome new participants warmly
2. Confirm what you understood about their name, location and food preferences
3. Ask for whatever is still missing
4. Let people know when the plan is being updated or locked in

Be conversational and keep replies to two or three sentences. Do not invent venues; plans are produced separately.`

// PromptBuilder renders the user-side prompts for the two LLM capabilities.
type PromptBuilder struct {
	// Candidate venues beyond this count are not listed in the plan prompt.
	MaxCandidates int
	// Only the newest MaxHistory transcript entries reach the model.
	MaxHistory int
}

// NewPromptBuilder returns a builder with default limits.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{MaxCandidates: 10, MaxHistory: 20}
}

// History converts the transcript tail into chat turns. Participant lines
// keep their sender so the model can tell people apart.
func (pb *PromptBuilder) History(history []hangout.Message) []*schema.Message {
	if pb.MaxHistory > 0 && len(history) > pb.MaxHistory {
		history = history[len(history)-pb.MaxHistory:]
	}
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		if m.Kind == hangout.KindUser {
			out = append(out, schema.UserMessage(m.Sender+": "+m.Text))
			continue
		}
		out = append(out, schema.AssistantMessage(m.Text, nil))
	}
	return out
}

// ConversationQuery builds the user turn for a conversational reply.
func (pb *PromptBuilder) ConversationQuery(sender, text string) string {
	text = strings.TrimSpace(text)
	if sender == "" {
		return text
	}
	return sender + ": " + text
}

// ExtractionQuery builds the user prompt for attribute extraction.
func (pb *PromptBuilder) ExtractionQuery(text string, known *hangout.Participant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract participant information from this message: %q", strings.TrimSpace(text))
	if known != nil {
		b.WriteString("\n\nExisting info: ")
		b.WriteString(known.Summary())
	}
	return b.String()
}

// PlanQuery builds the user prompt for plan generation.
func (pb *PromptBuilder) PlanQuery(req hangout.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a hangout plan for %d participants:\n\n", len(req.Participants))
	for _, p := range req.Participants {
		b.WriteString("- ")
		b.WriteString(p.Summary())
		if p.Coordinate != nil {
			fmt.Fprintf(&b, " [%.5f, %.5f]", p.Coordinate.Lat, p.Coordinate.Lng)
		}
		b.WriteString("\n")
	}

	if req.Centroid != nil {
		fmt.Fprintf(&b, "\nGeographic center of the geocoded participants: %.5f, %.5f\n", req.Centroid.Lat, req.Centroid.Lng)
	}

	if len(req.Notes) > 0 {
		b.WriteString("\nNotes:\n")
		for _, note := range req.Notes {
			b.WriteString("- ")
			b.WriteString(note)
			b.WriteString("\n")
		}
	}

	if len(req.Candidates) > 0 {
		b.WriteString("\nRestaurants found near the center (prefer these when they fit):\n")
		for i, v := range req.Candidates {
			if i == pb.MaxCandidates {
				break
			}
			fmt.Fprintf(&b, "- %s", v.Name)
			if v.Address != "" {
				fmt.Fprintf(&b, ", %s", v.Address)
			}
			if v.Rationale != "" {
				fmt.Fprintf(&b, " (%s)", v.Rationale)
			}
			b.WriteString("\n")
		}
	}

	if prev := req.Previous; prev != nil && len(prev.Venues) > 0 {
		fmt.Fprintf(&b, "\nPrevious plan (version %d): %s\n", prev.Version, prev.Venues[0].Name)
		b.WriteString("Explain what changed and why with the new participant data.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
