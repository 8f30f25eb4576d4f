package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
	"github.com/antlaw0/AI-DM-v2/internal/repository"
	"github.com/antlaw0/AI-DM-v2/internal/service/llm"
)

// fakeCompleter replays canned responses and records every prompt it saw.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}

	if len(f.responses) == 0 {
		return `{"narration":"The story continues.","player_stats":{},"game_events":[]}`, nil
	}
	next := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return next, nil
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// failingOutboundMessages lets the inbound append through and fails the
// narrator append.
type failingOutboundMessages struct {
	repository.MessageRepository
}

func (f *failingOutboundMessages) Append(ctx context.Context, msg *game.Message) error {
	if msg.Role == game.RoleNarrator {
		return errors.New("disk full")
	}
	return f.MessageRepository.Append(ctx, msg)
}

// failingStates fails every state save.
type failingStates struct {
	repository.GameStateRepository
}

func (f *failingStates) Save(context.Context, uint, string) error {
	return errors.New("disk full")
}

type fixture struct {
	svc      *Service
	users    repository.UserRepository
	messages repository.MessageRepository
	states   repository.GameStateRepository
	fake     *fakeCompleter
}

func newFixture(t *testing.T, historyLimit int, fake *fakeCompleter) *fixture {
	t.Helper()
	db := repository.SetupTestDB()
	users := repository.NewUserRepository(db)
	messages := repository.NewMessageRepository(db)
	states := repository.NewGameStateRepository(db)

	return &fixture{
		svc:      NewService(users, messages, states, fake, historyLimit, zap.NewNop()),
		users:    users,
		messages: messages,
		states:   states,
		fake:     fake,
	}
}

func TestPlayFirstTurn(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"narration":"A heavy oak door swings open.","player_stats":{"HP":20,"Gold":10},"game_events":["entered the keep"]}`,
	}}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	result, err := f.svc.Play(ctx, "ana", "I open the door")
	if err != nil {
		t.Fatalf("Play err: %v", err)
	}
	if result.Narration != "A heavy oak door swings open." {
		t.Fatalf("unexpected narration: %q", result.Narration)
	}
	if len(result.GameEvents) != 1 {
		t.Fatalf("unexpected events: %v", result.GameEvents)
	}

	user, err := f.users.FindByUsername(ctx, "ana")
	if err != nil {
		t.Fatalf("identity not created: %v", err)
	}

	history, err := f.messages.History(ctx, user.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected inbound + outbound, got %d messages", len(history))
	}
	if history[0].Role != game.RolePlayer || history[0].Sequence != 1 {
		t.Fatalf("unexpected inbound: %+v", history[0])
	}
	if history[1].Role != game.RoleNarrator || history[1].Sequence != 2 {
		t.Fatalf("unexpected outbound: %+v", history[1])
	}

	stats, err := f.svc.State(ctx, "ana")
	if err != nil {
		t.Fatalf("State err: %v", err)
	}
	if stats["HP"] != float64(20) || stats["Gold"] != float64(10) {
		t.Fatalf("state not persisted: %v", stats)
	}
}

func TestPlayFirstTurnPromptHasNoHistory(t *testing.T) {
	fake := &fakeCompleter{}
	f := newFixture(t, 10, fake)

	if _, err := f.svc.Play(context.Background(), "ana", "I open the door"); err != nil {
		t.Fatalf("Play err: %v", err)
	}

	prompt := fake.lastPrompt()
	if strings.Count(prompt, "<|user|>") != 1 {
		t.Fatalf("empty history must yield a single user turn, got prompt %q", prompt)
	}
}

func TestPlayRejectsEmptyMessageBeforeMutation(t *testing.T) {
	fake := &fakeCompleter{}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	if _, err := f.svc.Play(ctx, "ana", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	if _, err := f.users.FindByUsername(ctx, "ana"); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatal("validation failure must not create an identity")
	}
	if len(fake.prompts) != 0 {
		t.Fatal("validation failure must not reach the model")
	}
}

func TestPlayRejectsEmptyUsername(t *testing.T) {
	f := newFixture(t, 10, &fakeCompleter{})

	if _, err := f.svc.Play(context.Background(), "", "hello"); !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("expected ErrEmptyUsername, got %v", err)
	}
}

func TestPlayCompletionFailureKeepsInboundMessage(t *testing.T) {
	fake := &fakeCompleter{err: &llm.TransportError{Cause: "timed out after 120s"}}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	result, err := f.svc.Play(ctx, "ana", "I open the door")
	if result != nil {
		t.Fatalf("expected no result, got %+v", result)
	}

	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Stage != StageCompletion {
		t.Fatalf("expected completion-stage TurnError, got %v", err)
	}
	var transportErr *llm.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("transport cause must stay unwrappable, got %v", err)
	}

	// The player's message survives as unanswered context.
	history, err := f.svc.History(ctx, "ana")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 1 || history[0].Role != game.RolePlayer {
		t.Fatalf("inbound message must remain persisted, got %+v", history)
	}
}

func TestPlayContextWindowExcludesCurrentMessage(t *testing.T) {
	fake := &fakeCompleter{}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	if _, err := f.svc.Play(ctx, "ana", "first move"); err != nil {
		t.Fatalf("Play err: %v", err)
	}
	if _, err := f.svc.Play(ctx, "ana", "second move"); err != nil {
		t.Fatalf("Play err: %v", err)
	}

	prompt := fake.lastPrompt()
	if !strings.Contains(prompt, "first move") {
		t.Fatal("prior turn missing from context window")
	}
	// The new input appears exactly once, as the final user turn, never as
	// part of the loaded window.
	if strings.Count(prompt, "second move") != 1 {
		t.Fatalf("current message leaked into its own context window: %q", prompt)
	}
}

func TestPlayContextWindowHonorsLimit(t *testing.T) {
	fake := &fakeCompleter{}
	f := newFixture(t, 2, fake)
	ctx := context.Background()

	for _, move := range []string{"move one", "move two", "move three"} {
		if _, err := f.svc.Play(ctx, "ana", move); err != nil {
			t.Fatalf("Play err: %v", err)
		}
	}

	prompt := fake.lastPrompt()
	if strings.Contains(prompt, "move one") {
		t.Fatal("window exceeded the history limit")
	}
	// Limit 2 covers the prior turn's player line and narration.
	if !strings.Contains(prompt, "move two") {
		t.Fatal("window dropped a message inside the limit")
	}
}

func TestPlayMalformedModelOutputPreservesState(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"narration":"ok","player_stats":{"HP":15},"game_events":[]}`,
		`The model rambles in plain prose this time.`,
	}}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	if _, err := f.svc.Play(ctx, "ana", "first"); err != nil {
		t.Fatalf("Play err: %v", err)
	}

	result, err := f.svc.Play(ctx, "ana", "second")
	if err != nil {
		t.Fatalf("malformed output must not fail the turn: %v", err)
	}
	if result.Narration != "The model rambles in plain prose this time." {
		t.Fatalf("unexpected narration: %q", result.Narration)
	}

	// No stats in the reply: the previous state stays.
	stats, err := f.svc.State(ctx, "ana")
	if err != nil {
		t.Fatalf("State err: %v", err)
	}
	if stats["HP"] != float64(15) {
		t.Fatalf("prior state clobbered: %v", stats)
	}
}

func TestPlayStatsSupersedeWholesale(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"narration":"ok","player_stats":{"HP":20,"Gold":10},"game_events":[]}`,
		`{"narration":"ok","player_stats":{"HP":8},"game_events":[]}`,
	}}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	if _, err := f.svc.Play(ctx, "ana", "first"); err != nil {
		t.Fatalf("Play err: %v", err)
	}
	if _, err := f.svc.Play(ctx, "ana", "second"); err != nil {
		t.Fatalf("Play err: %v", err)
	}

	stats, err := f.svc.State(ctx, "ana")
	if err != nil {
		t.Fatalf("State err: %v", err)
	}
	if stats["HP"] != float64(8) {
		t.Fatalf("new stats must win: %v", stats)
	}
	if _, ok := stats["Gold"]; ok {
		t.Fatal("a non-empty stats payload supersedes the old record wholesale")
	}
}

func TestPlayOutboundMessageFailureStillReturnsNarration(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"narration":"A heavy oak door swings open.","player_stats":{"HP":20},"game_events":[]}`,
	}}
	db := repository.SetupTestDB()
	users := repository.NewUserRepository(db)
	messages := &failingOutboundMessages{MessageRepository: repository.NewMessageRepository(db)}
	states := repository.NewGameStateRepository(db)
	svc := NewService(users, messages, states, fake, 10, zap.NewNop())
	ctx := context.Background()

	result, err := svc.Play(ctx, "ana", "I open the door")

	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Stage != StagePersistOutbound {
		t.Fatalf("expected persist_outbound TurnError, got %v", err)
	}
	if result == nil || result.Narration != "A heavy oak door swings open." {
		t.Fatalf("narration must survive the storage failure, got %+v", result)
	}

	// Only the inbound message made it to disk.
	user, findErr := users.FindByUsername(ctx, "ana")
	if findErr != nil {
		t.Fatalf("FindByUsername err: %v", findErr)
	}
	history, histErr := messages.History(ctx, user.ID)
	if histErr != nil {
		t.Fatalf("History err: %v", histErr)
	}
	if len(history) != 1 || history[0].Role != game.RolePlayer {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestPlayStateSaveFailureStillReturnsNarration(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"narration":"Gold glitters in the chest.","player_stats":{"Gold":50},"game_events":[]}`,
	}}
	db := repository.SetupTestDB()
	users := repository.NewUserRepository(db)
	messages := repository.NewMessageRepository(db)
	states := &failingStates{GameStateRepository: repository.NewGameStateRepository(db)}
	svc := NewService(users, messages, states, fake, 10, zap.NewNop())
	ctx := context.Background()

	result, err := svc.Play(ctx, "ana", "I loot the chest")

	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Stage != StagePersistOutbound {
		t.Fatalf("expected persist_outbound TurnError, got %v", err)
	}
	if result == nil || result.Narration != "Gold glitters in the chest." {
		t.Fatalf("narration must survive the storage failure, got %+v", result)
	}

	// Both messages persisted; only the state write was lost.
	user, findErr := users.FindByUsername(ctx, "ana")
	if findErr != nil {
		t.Fatalf("FindByUsername err: %v", findErr)
	}
	history, histErr := messages.History(ctx, user.ID)
	if histErr != nil {
		t.Fatalf("History err: %v", histErr)
	}
	if len(history) != 2 {
		t.Fatalf("expected inbound + outbound, got %d messages", len(history))
	}
}

func TestPlayConcurrentTurnsSameUserSerialize(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"narration":"ok","player_stats":{"HP":5,"Gold":1},"game_events":[]}`,
		`{"narration":"ok","player_stats":{"HP":7,"Mana":2},"game_events":[]}`,
	}}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Play(ctx, "ana", "concurrent move")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
	}

	history, err := f.svc.History(ctx, "ana")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 messages from 2 serialized turns, got %d", len(history))
	}
	for i, msg := range history {
		if msg.Sequence != uint64(i+1) {
			t.Fatalf("sequences interleaved: %+v", history)
		}
	}
	// Serialized turns alternate player / narrator with no interleaving.
	for i, msg := range history {
		want := game.RolePlayer
		if i%2 == 1 {
			want = game.RoleNarrator
		}
		if msg.Role != want {
			t.Fatalf("roles interleaved at %d: %+v", i, history)
		}
	}

	// The final state is exactly the payload of whichever turn wrote last,
	// never a merge of both.
	stats, err := f.svc.State(ctx, "ana")
	if err != nil {
		t.Fatalf("State err: %v", err)
	}
	_, hasGold := stats["Gold"]
	_, hasMana := stats["Mana"]
	switch {
	case hasGold && !hasMana:
		if stats["HP"] != float64(5) || len(stats) != 2 {
			t.Fatalf("state is not the first turn's payload: %v", stats)
		}
	case hasMana && !hasGold:
		if stats["HP"] != float64(7) || len(stats) != 2 {
			t.Fatalf("state is not the second turn's payload: %v", stats)
		}
	default:
		t.Fatalf("state merged across turns: %v", stats)
	}
}

func TestStateUnknownUser(t *testing.T) {
	f := newFixture(t, 10, &fakeCompleter{})

	if _, err := f.svc.State(context.Background(), "nobody"); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestStateBeforeAnyStats(t *testing.T) {
	fake := &fakeCompleter{responses: []string{`just prose, no stats`}}
	f := newFixture(t, 10, fake)
	ctx := context.Background()

	if _, err := f.svc.Play(ctx, "ana", "hello"); err != nil {
		t.Fatalf("Play err: %v", err)
	}

	stats, err := f.svc.State(ctx, "ana")
	if err != nil {
		t.Fatalf("State err: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("expected empty stats, got %v", stats)
	}
}
