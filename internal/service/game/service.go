package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
	"github.com/antlaw0/AI-DM-v2/internal/repository"
	"github.com/antlaw0/AI-DM-v2/internal/service/llm"
)

// Validation errors, reported before any state mutation.
var (
	ErrEmptyUsername = errors.New("username is required")
	ErrEmptyMessage  = errors.New("message is required")
)

// Stage names the step of a turn that failed.
type Stage string

const (
	StageLoadContext     Stage = "load_context"
	StagePersistInbound  Stage = "persist_inbound"
	StageCompletion      Stage = "completion"
	StagePersistOutbound Stage = "persist_outbound"
)

// TurnError wraps a turn failure with the stage it happened in.
type TurnError struct {
	Stage Stage
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Service orchestrates one turn: resolve identity, load context, persist the
// inbound message, call the model, interpret, persist the outcome.
type Service struct {
	users        repository.UserRepository
	messages     repository.MessageRepository
	states       repository.GameStateRepository
	completer    llm.Completer
	historyLimit int
	locks        *identityLocks
	log          *zap.Logger
}

// NewService wires the turn orchestrator.
func NewService(
	users repository.UserRepository,
	messages repository.MessageRepository,
	states repository.GameStateRepository,
	completer llm.Completer,
	historyLimit int,
	log *zap.Logger,
) *Service {
	return &Service{
		users:        users,
		messages:     messages,
		states:       states,
		completer:    completer,
		historyLimit: historyLimit,
		locks:        newIdentityLocks(),
		log:          log,
	}
}

// Play runs one turn for a player. Turns for the same username are
// serialized; turns for different usernames run concurrently.
//
// When the model has already answered but persisting the answer fails, Play
// returns the result AND a *TurnError with StagePersistOutbound: a narration
// the player effectively received is never hidden behind a storage failure.
// In every other failure mode the result is nil.
func (s *Service) Play(ctx context.Context, username, input string) (*game.TurnResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyMessage
	}

	// Identity creation is idempotent and race-safe at the store, so it sits
	// outside the per-identity critical section.
	user, err := s.users.GetOrCreate(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve identity %q: %w", username, err)
	}

	lock := s.locks.get(username)
	lock.Lock()
	defer lock.Unlock()

	turnID := uuid.NewString()
	log := s.log.With(zap.String("turnId", turnID), zap.String("username", username))

	// The window is read before the inbound append, so it never contains the
	// message being answered.
	history, err := s.messages.Recent(ctx, user.ID, s.historyLimit)
	if err != nil {
		return nil, &TurnError{Stage: StageLoadContext, Err: err}
	}

	inbound := &game.Message{UserID: user.ID, Role: game.RolePlayer, Content: input}
	if err := s.messages.Append(ctx, inbound); err != nil {
		return nil, &TurnError{Stage: StagePersistInbound, Err: err}
	}

	prompt := llm.BuildPrompt(history, input)
	raw, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		// The inbound message stays: the player said it, and it will show up
		// as unanswered context on the next attempt.
		log.Warn("completion failed", zap.Error(err))
		return nil, &TurnError{Stage: StageCompletion, Err: err}
	}

	result := llm.Interpret(raw)

	outbound := &game.Message{UserID: user.ID, Role: game.RoleNarrator, Content: result.Narration}
	if err := s.messages.Append(ctx, outbound); err != nil {
		log.Error("failed to persist narration", zap.Error(err))
		return &result, &TurnError{Stage: StagePersistOutbound, Err: err}
	}

	// A turn that yields no stats leaves the previous state untouched; a
	// non-empty stats object supersedes it wholesale.
	if len(result.PlayerStats) > 0 {
		data, err := json.Marshal(result.PlayerStats)
		if err != nil {
			return &result, &TurnError{Stage: StagePersistOutbound, Err: err}
		}
		if err := s.states.Save(ctx, user.ID, string(data)); err != nil {
			log.Error("failed to persist game state", zap.Error(err))
			return &result, &TurnError{Stage: StagePersistOutbound, Err: err}
		}
	}

	log.Info("turn completed",
		zap.Uint64("inboundSeq", inbound.Sequence),
		zap.Uint64("outboundSeq", outbound.Sequence),
		zap.Int("events", len(result.GameEvents)),
	)
	return &result, nil
}

// History returns a player's full conversation, oldest first.
func (s *Service) History(ctx context.Context, username string) ([]game.Message, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	return s.messages.History(ctx, user.ID)
}

// State returns a player's current stats payload, or an empty object when no
// turn has produced stats yet.
func (s *Service) State(ctx context.Context, username string) (map[string]any, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}

	state, err := s.states.Get(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var stats map[string]any
	if err := json.Unmarshal([]byte(state.Data), &stats); err != nil || stats == nil {
		return map[string]any{}, nil
	}
	return stats, nil
}
