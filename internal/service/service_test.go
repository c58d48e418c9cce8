package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/infra"
	"github.com/tablestakes/platform/internal/modes"
	"github.com/tablestakes/platform/internal/queue"
	"github.com/tablestakes/platform/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeModule is a configurable Module for driving the service layer without
// real mode logic.
type fakeModule struct {
	key        string
	label      string
	leagues    []string
	options    []string
	steps      []domain.WizardStep
	validateFn func(modes.ValidateInput) modes.ValidationResult
	prepareFn  func(modes.PrepareInput) (domain.ModeConfig, error)
	validator  modes.Validator
	liveInfo   *domain.LiveInfo
}

func (m *fakeModule) Key() string   { return m.key }
func (m *fakeModule) Label() string { return m.label }
func (m *fakeModule) Overview() string {
	return "test mode"
}

func (m *fakeModule) SupportedLeagues() []string {
	if len(m.leagues) == 0 {
		return []string{"*"}
	}
	return m.leagues
}

func (m *fakeModule) ComputeOptions(cfg domain.ModeConfig) []string {
	if len(m.options) > 0 {
		return m.options
	}
	return []string{"Yes", "No", domain.NoEntry}
}

func (m *fakeModule) ComputeWinningCondition(cfg domain.ModeConfig) string {
	return "the thing happens"
}

func (m *fakeModule) BuildUserConfig(ctx context.Context, in modes.BuildInput) ([]domain.WizardStep, error) {
	steps := make([]domain.WizardStep, len(m.steps))
	copy(steps, m.steps)
	return steps, nil
}

func (m *fakeModule) ConfigFromSteps(steps []domain.WizardStep) domain.ModeConfig {
	cfg := domain.ModeConfig{}
	for i := range steps {
		if steps[i].SelectedChoiceID != nil {
			cfg[steps[i].Key] = *steps[i].SelectedChoiceID
		}
		if steps[i].TextValue != nil {
			cfg[steps[i].Key] = *steps[i].TextValue
		}
	}
	return cfg
}

func (m *fakeModule) ValidateProposal(ctx context.Context, in modes.ValidateInput) modes.ValidationResult {
	if m.validateFn != nil {
		return m.validateFn(in)
	}
	return modes.ValidationResult{Valid: true}
}

func (m *fakeModule) PrepareConfig(ctx context.Context, in modes.PrepareInput) (domain.ModeConfig, error) {
	if m.prepareFn != nil {
		return m.prepareFn(in)
	}
	return in.Config, nil
}

func (m *fakeModule) GetLiveInfo(ctx context.Context, in modes.LiveInfoInput) (*domain.LiveInfo, error) {
	if m.liveInfo != nil {
		return m.liveInfo, nil
	}
	return &domain.LiveInfo{}, nil
}

func (m *fakeModule) Validator() modes.Validator { return m.validator }

// decisionFunc adapts a closure into a modes.Validator.
type decisionFunc func(ctx context.Context, bet *domain.BetProposal, cfg domain.ModeConfig) (modes.Decision, error)

func (f decisionFunc) Evaluate(ctx context.Context, bet *domain.BetProposal, cfg domain.ModeConfig) (modes.Decision, error) {
	return f(ctx, bet, cfg)
}

// fakeGames serves refined docs from memory.
type fakeGames struct {
	mu    sync.Mutex
	games map[string]*domain.RefinedGameDoc
}

func newFakeGames() *fakeGames {
	return &fakeGames{games: make(map[string]*domain.RefinedGameDoc)}
}

func (f *fakeGames) set(league, gameID string, doc *domain.RefinedGameDoc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games[league+"/"+gameID] = doc
}

func (f *fakeGames) Game(league, gameID string) (*domain.RefinedGameDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.games[league+"/"+gameID], nil
}

// fakeBets is an in-memory BetRepository honouring the conditional-update
// semantics of the real one.
type fakeBets struct {
	mu         sync.Mutex
	bets       map[uuid.UUID]*domain.BetProposal
	insertErr  error
	deletedIDs []uuid.UUID
}

func newFakeBets() *fakeBets {
	return &fakeBets{bets: make(map[uuid.UUID]*domain.BetProposal)}
}

func (f *fakeBets) get(id uuid.UUID) *domain.BetProposal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bets[id]; ok {
		copied := *b
		return &copied
	}
	return nil
}

func (f *fakeBets) Insert(ctx context.Context, db repository.DBTX, bet *domain.BetProposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	copied := *bet
	f.bets[bet.ID] = &copied
	return nil
}

func (f *fakeBets) Delete(ctx context.Context, db repository.DBTX, betID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bets, betID)
	f.deletedIDs = append(f.deletedIDs, betID)
	return nil
}

func (f *fakeBets) FindByID(ctx context.Context, db repository.DBTX, betID uuid.UUID) (*domain.BetProposal, error) {
	return f.get(betID), nil
}

func (f *fakeBets) PromoteExpired(ctx context.Context, db repository.DBTX, now time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, b := range f.bets {
		if b.Status == domain.BetStatusActive && !b.CloseTime.After(now) && b.WinningChoice == nil {
			b.Status = domain.BetStatusPending
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

func (f *fakeBets) SetWinningChoice(ctx context.Context, db repository.DBTX, betID uuid.UUID, choice string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bets[betID]
	if !ok || b.Status.Terminal() || b.WinningChoice != nil {
		return false, nil
	}
	b.Status = domain.BetStatusResolved
	b.WinningChoice = &choice
	b.ResolutionTime = &at
	return true, nil
}

func (f *fakeBets) Wash(ctx context.Context, db repository.DBTX, betID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bets[betID]
	if !ok || b.Status.Terminal() || b.WinningChoice != nil {
		return false, nil
	}
	b.Status = domain.BetStatusWashed
	b.ResolutionTime = &at
	return true, nil
}

func (f *fakeBets) ListUnsettledByMode(ctx context.Context, db repository.DBTX, modeKey string) ([]domain.BetProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BetProposal
	for _, b := range f.bets {
		if b.ModeKey == modeKey && !b.Status.Terminal() {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBets) CountUnsettled(ctx context.Context, db repository.DBTX) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, b := range f.bets {
		if !b.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// fakeParticipations consults fakeBets for the active-bet gate on updates.
type fakeParticipations struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.BetParticipation
	bets *fakeBets
}

func newFakeParticipations(bets *fakeBets) *fakeParticipations {
	return &fakeParticipations{rows: make(map[uuid.UUID]*domain.BetParticipation), bets: bets}
}

func (f *fakeParticipations) Insert(ctx context.Context, db repository.DBTX, p *domain.BetParticipation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *p
	f.rows[p.ID] = &copied
	return nil
}

func (f *fakeParticipations) FindByBetAndUser(ctx context.Context, db repository.DBTX, betID, userID uuid.UUID) (*domain.BetParticipation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.BetID == betID && p.UserID == userID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeParticipations) UpdateGuess(ctx context.Context, db repository.DBTX, participationID uuid.UUID, guess string) (bool, error) {
	f.mu.Lock()
	p, ok := f.rows[participationID]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	bet := f.bets.get(p.BetID)
	if bet == nil || bet.Status != domain.BetStatusActive {
		return false, nil
	}
	f.mu.Lock()
	p.UserGuess = guess
	f.mu.Unlock()
	return true, nil
}

func (f *fakeParticipations) ListTickets(ctx context.Context, db repository.DBTX, userID uuid.UUID, cursor *repository.TicketCursor, limit int) ([]domain.Ticket, error) {
	return nil, nil
}

// fakeTables tracks membership and captured feed rows.
type fakeTables struct {
	mu        sync.Mutex
	members   map[string]bool
	feedItems []domain.FeedItem
	touched   map[uuid.UUID]time.Time
}

func newFakeTables() *fakeTables {
	return &fakeTables{members: make(map[string]bool), touched: make(map[uuid.UUID]time.Time)}
}

func (f *fakeTables) addMember(tableID, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[tableID.String()+"|"+userID.String()] = true
}

func (f *fakeTables) FindByID(ctx context.Context, db repository.DBTX, tableID uuid.UUID) (*domain.Table, error) {
	return &domain.Table{ID: tableID, Name: "test table"}, nil
}

func (f *fakeTables) IsMember(ctx context.Context, db repository.DBTX, tableID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[tableID.String()+"|"+userID.String()], nil
}

func (f *fakeTables) InsertFeedItem(ctx context.Context, db repository.DBTX, item *domain.FeedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedItems = append(f.feedItems, *item)
	return nil
}

func (f *fakeTables) TouchActivity(ctx context.Context, db repository.DBTX, tableID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[tableID] = at
	return nil
}

func (f *fakeTables) ListForUser(ctx context.Context, db repository.DBTX, userID uuid.UUID, cursor *repository.TableCursor, limit int) ([]domain.Table, error) {
	return nil, nil
}

// fakeHistory is the append-only audit log, with per-event-type error
// injection for the compensating-delete path.
type fakeHistory struct {
	mu        sync.Mutex
	events    []domain.ResolutionHistoryEvent
	appendErr map[string]error
	nextID    int64
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{appendErr: make(map[string]error)}
}

func (f *fakeHistory) Append(ctx context.Context, db repository.DBTX, betID uuid.UUID, eventType string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.appendErr[eventType]; err != nil {
		return err
	}
	f.nextID++
	f.events = append(f.events, domain.ResolutionHistoryEvent{
		ID:        f.nextID,
		BetID:     betID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (f *fakeHistory) LatestByType(ctx context.Context, db repository.DBTX, betID uuid.UUID, eventType string) (*domain.ResolutionHistoryEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].BetID == betID && f.events[i].EventType == eventType {
			ev := f.events[i]
			return &ev, nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) eventsOfType(betID uuid.UUID, eventType string) []domain.ResolutionHistoryEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ResolutionHistoryEvent
	for _, ev := range f.events {
		if ev.BetID == betID && ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// testEnv wires the full service layer against fakes plus miniredis.
type testEnv struct {
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	registry  *modes.Registry
	mod       *fakeModule
	games     *fakeGames
	bets      *fakeBets
	parts     *fakeParticipations
	tables    *fakeTables
	history   *fakeHistory
	sessions  *SessionService
	proposals *ProposalService
	queue     *queue.Queue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { require.NoError(t, rdb.Close()) })

	mod := &fakeModule{
		key:     "test_mode",
		label:   "Test Mode",
		leagues: []string{"nfl"},
		steps: []domain.WizardStep{
			{
				Key:   "pick",
				Label: "Pick a side",
				Input: domain.StepInputChoice,
				Choices: []domain.StepChoice{
					{ID: "heads", Label: "Heads"},
					{ID: "tails", Label: "Tails"},
				},
			},
		},
	}

	registry := modes.NewRegistry()
	registry.Register(mod)

	games := newFakeGames()
	bets := newFakeBets()
	parts := newFakeParticipations(bets)
	tables := newFakeTables()
	history := newFakeHistory()
	logger := discardLogger()

	sessions := NewSessionService(rdb, registry, games, logger)
	q := queue.New(rdb)
	producer := infra.NewFeedProducer("", "", false, logger)
	proposals := NewProposalService(nil, bets, parts, tables, history,
		repository.NewModeConfigCache(history), registry, games, sessions, q, producer, logger)

	return &testEnv{
		mr:        mr,
		rdb:       rdb,
		registry:  registry,
		mod:       mod,
		games:     games,
		bets:      bets,
		parts:     parts,
		tables:    tables,
		history:   history,
		sessions:  sessions,
		proposals: proposals,
		queue:     q,
	}
}
