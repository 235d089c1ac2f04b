package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
)

const anonymousSender = "Guest"

func senderLabel(sender string) string {
	if sender == "" {
		return anonymousSender
	}
	return sender
}

func acknowledgement(p hangout.Participant, created, changed bool) string {
	switch {
	case created:
		return fmt.Sprintf("Added %s.", p.Summary())
	case changed:
		return fmt.Sprintf("Updated %s.", p.Summary())
	default:
		return fmt.Sprintf("Thanks %s, I already have that noted.", p.Name)
	}
}

func planSummary(plan hangout.Plan) string {
	people := "person"
	if len(plan.Participants) != 1 {
		people = "people"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan updated (v%d): optimizing for %d %s", plan.Version, len(plan.Participants), people)
	if len(plan.Venues) > 0 {
		fmt.Fprintf(&b, ". Top pick: %s", plan.Venues[0].Name)
	}
	fmt.Fprintf(&b, " (%s confidence).", plan.Confidence)
	return b.String()
}

func finalizedText(plan hangout.Plan) string {
	if len(plan.Venues) == 0 {
		return fmt.Sprintf("Plan v%d is locked in.", plan.Version)
	}
	return fmt.Sprintf("Plan v%d is locked in. See you at %s!", plan.Version, plan.Venues[0].Name)
}

func planFailureText(err error) string {
	switch {
	case errors.Is(err, hangout.ErrInsufficientData):
		return "I need at least one person's details before I can suggest anything."
	case errors.Is(err, hangout.ErrTimeout):
		return "Planning took too long. Try again in a moment."
	default:
		return "I couldn't put a plan together right now. Try again in a moment."
	}
}
