package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/resilience"
)

const (
	extractionTemperature = 0.3
	planTemperature       = 0.5
	planMaxTokens         = 1500
	replyTemperature      = 0.8
	replyMaxTokens        = 500
)

// Service talks to the hosted chat model for attribute extraction, plan
// generation and conversational replies.
type Service struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *PromptBuilder
	guard   *resilience.Guard
	logger  *zap.Logger
}

// NewService compiles the prompt chain around chatModel. guard may be nil.
func NewService(ctx context.Context, chatModel model.BaseChatModel, guard *resilience.Guard, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:   runnable,
		prompts: NewPromptBuilder(),
		guard:   guard,
		logger:  logger.Named("ai"),
	}, nil
}

// Extract turns free text into participant attributes. known carries what
// the session already knows about the sender, if anything.
func (s *Service) Extract(ctx context.Context, text string, known *hangout.Participant) (hangout.ParticipantUpdate, error) {
	input := map[string]any{
		"system": extractionSystemPrompt,
		"query":  s.prompts.ExtractionQuery(text, known),
	}

	return resilience.Run(ctx, s.guard, "extract", hangout.ErrExtraction, func(ctx context.Context) (hangout.ParticipantUpdate, error) {
		content, err := s.invoke(ctx, input, model.WithTemperature(extractionTemperature))
		if err != nil {
			return hangout.ParticipantUpdate{}, err
		}

		update, err := parseExtraction(content)
		if err != nil {
			s.logger.Warn("unparseable extraction response", zap.Error(err), zap.Int("length", len(content)))
			return hangout.ParticipantUpdate{}, resilience.Permanent(fmt.Errorf("malformed extraction response: %w", err))
		}

		s.logger.Debug("extracted participant attributes",
			zap.String("name", update.Name),
			zap.Bool("location", update.HomeLocation != nil),
			zap.Int("cuisines", len(update.Cuisines)),
			zap.Int("dietary", len(update.Dietary)),
		)
		return update, nil
	})
}

// GeneratePlan asks the model for venue recommendations for the group.
func (s *Service) GeneratePlan(ctx context.Context, req hangout.PlanRequest) (hangout.PlanDraft, error) {
	input := map[string]any{
		"system": planSystemPrompt,
		"query":  s.prompts.PlanQuery(req),
	}

	return resilience.Run(ctx, s.guard, "generate_plan", hangout.ErrPlanGeneration, func(ctx context.Context) (hangout.PlanDraft, error) {
		content, err := s.invoke(ctx, input,
			model.WithTemperature(planTemperature),
			model.WithMaxTokens(planMaxTokens),
		)
		if err != nil {
			return hangout.PlanDraft{}, err
		}

		draft, err := parsePlan(content)
		if err != nil {
			s.logger.Warn("unparseable plan response", zap.Error(err), zap.Int("length", len(content)))
			return hangout.PlanDraft{}, resilience.Permanent(fmt.Errorf("malformed plan response: %w", err))
		}

		s.logger.Info("generated plan draft",
			zap.Int("participants", len(req.Participants)),
			zap.Int("venues", len(draft.Venues)),
		)
		return draft, nil
	})
}

// Respond writes a short chat reply to text, given the transcript that came
// before it.
func (s *Service) Respond(ctx context.Context, history []hangout.Message, sender, text string) (string, error) {
	input := map[string]any{
		"system":  conversationSystemPrompt,
		"history": s.prompts.History(history),
		"query":   s.prompts.ConversationQuery(sender, text),
	}

	return resilience.Run(ctx, s.guard, "respond", hangout.ErrConversation, func(ctx context.Context) (string, error) {
		content, err := s.invoke(ctx, input,
			model.WithTemperature(replyTemperature),
			model.WithMaxTokens(replyMaxTokens),
		)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(content), nil
	})
}

func (s *Service) invoke(ctx context.Context, input map[string]any, opts ...model.Option) (string, error) {
	msg, err := s.chain.Invoke(ctx, input, compose.WithChatModelOption(opts...))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", resilience.Permanent(fmt.Errorf("empty model response"))
	}
	return msg.Content, nil
}
