package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronocards/internal/catalog"
	"chronocards/internal/domain"
)

// MemStore is the in-memory Store implementation, used when no Redis is
// configured and throughout the test suite.
type MemStore struct {
	mu    sync.RWMutex
	cards *catalog.Catalog

	games    map[string]*domain.Game // game id → record
	codes    map[string]string       // room code → game id
	players  map[string]*domain.Player
	byGame   map[string][]string // game id → player ids in join order
	timeline map[string][]*domain.TimelineCard

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemStore(cards *catalog.Catalog) *MemStore {
	return &MemStore{
		cards:    cards,
		games:    make(map[string]*domain.Game),
		codes:    make(map[string]string),
		players:  make(map[string]*domain.Player),
		byGame:   make(map[string][]string),
		timeline: make(map[string][]*domain.TimelineCard),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *MemStore) CreateGame(ctx context.Context, roomCode string, maxPlayers int) (*domain.Game, error) {
	roomCode = strings.TrimSpace(roomCode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.codes[roomCode]; exists {
		return nil, ErrRoomCodeTaken
	}
	now := time.Now()
	g := &domain.Game{
		ID:         uuid.NewString(),
		RoomCode:   roomCode,
		MaxPlayers: maxPlayers,
		Phase:      domain.PhaseWaiting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.games[g.ID] = g
	m.codes[roomCode] = g.ID
	return copyGame(g), nil
}

func (m *MemStore) GameByRoomCode(ctx context.Context, roomCode string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[strings.TrimSpace(roomCode)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGame(m.games[id]), nil
}

func (m *MemStore) GameByID(ctx context.Context, id string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGame(g), nil
}

func (m *MemStore) GameWithPlayers(ctx context.Context, id string) (*domain.Game, []*domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return copyGame(g), m.playersLocked(id), nil
}

func (m *MemStore) UpdateGameState(ctx context.Context, gameID string, state domain.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.State = state.Clone()
	g.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) UpdateGamePhase(ctx context.Context, roomCode string, phase domain.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[strings.TrimSpace(roomCode)]
	if !ok {
		return ErrNotFound
	}
	g := m.games[id]
	g.Phase = phase
	g.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) PlayerCount(ctx context.Context, gameID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.games[gameID]; !ok {
		return 0, ErrNotFound
	}
	return len(m.byGame[gameID]), nil
}

func (m *MemStore) IsFull(ctx context.Context, gameID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	if !ok {
		return false, ErrNotFound
	}
	return len(m.byGame[gameID]) >= g.MaxPlayers, nil
}

func (m *MemStore) CleanupInactive(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, g := range m.games {
		if g.Phase == domain.PhasePlaying || g.UpdatedAt.After(cutoff) {
			continue
		}
		for _, pid := range m.byGame[id] {
			delete(m.players, pid)
		}
		delete(m.byGame, id)
		delete(m.timeline, id)
		delete(m.codes, g.RoomCode)
		delete(m.games, id)
		removed++
	}
	return removed, nil
}

func (m *MemStore) AddPlayer(ctx context.Context, roomCode, name string) (*domain.Player, error) {
	name = strings.TrimSpace(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[strings.TrimSpace(roomCode)]
	if !ok {
		return nil, ErrNotFound
	}
	g := m.games[id]
	if len(m.byGame[id]) >= g.MaxPlayers {
		return nil, ErrGameFull
	}
	for _, pid := range m.byGame[id] {
		if strings.EqualFold(m.players[pid].Name, name) {
			return nil, ErrNameTaken
		}
	}
	p := &domain.Player{
		ID:       uuid.NewString(),
		GameID:   id,
		Name:     name,
		Hand:     []string{},
		JoinedAt: time.Now(),
	}
	m.players[p.ID] = p
	m.byGame[id] = append(m.byGame[id], p.ID)
	g.UpdatedAt = time.Now()
	return copyPlayer(p), nil
}

func (m *MemStore) PlayerByID(ctx context.Context, id string) (*domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPlayer(p), nil
}

func (m *MemStore) PlayersByGame(ctx context.Context, gameID string) ([]*domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, ErrNotFound
	}
	return m.playersLocked(gameID), nil
}

func (m *MemStore) playersLocked(gameID string) []*domain.Player {
	ids := m.byGame[gameID]
	out := make([]*domain.Player, 0, len(ids))
	for _, pid := range ids {
		if p, ok := m.players[pid]; ok {
			out = append(out, copyPlayer(p))
		}
	}
	return out
}

func (m *MemStore) UpdateHand(ctx context.Context, playerID string, cardIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return ErrNotFound
	}
	p.Hand = append([]string{}, cardIDs...)
	m.touchGameLocked(p.GameID)
	return nil
}

// SetCurrentTurn flips the flag to the named player and clears every other
// player in the same game; the steady state always holds exactly one.
func (m *MemStore) SetCurrentTurn(ctx context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return ErrNotFound
	}
	for _, pid := range m.byGame[p.GameID] {
		if other, ok := m.players[pid]; ok {
			other.IsCurrentTurn = pid == playerID
		}
	}
	m.touchGameLocked(p.GameID)
	return nil
}

func (m *MemStore) UpdateScore(ctx context.Context, playerID string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return ErrNotFound
	}
	p.Score = score
	m.touchGameLocked(p.GameID)
	return nil
}

func (m *MemStore) AddTimelineCard(ctx context.Context, gameID, cardID string, position int) (*domain.TimelineCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, ErrNotFound
	}
	cards := m.timeline[gameID]
	if position < 0 {
		position = 0
	}
	if position > len(cards) {
		position = len(cards)
	}
	tc := &domain.TimelineCard{
		ID:       uuid.NewString(),
		GameID:   gameID,
		CardID:   cardID,
		Position: position,
		PlacedAt: time.Now(),
	}
	cards = append(cards, nil)
	copy(cards[position+1:], cards[position:])
	cards[position] = tc
	renumber(cards)
	m.timeline[gameID] = cards
	m.touchGameLocked(gameID)
	out := *tc
	return &out, nil
}

func (m *MemStore) TimelineByGame(ctx context.Context, gameID string) ([]*domain.TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, ErrNotFound
	}
	cards := m.timeline[gameID]
	out := make([]*domain.TimelineEntry, 0, len(cards))
	for _, tc := range cards {
		entry := &domain.TimelineEntry{TimelineCard: *tc}
		if card, ok := m.cards.ByID(tc.CardID); ok {
			entry.Card = card
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *MemStore) RemoveTimelineCard(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for gameID, cards := range m.timeline {
		for i, tc := range cards {
			if tc.ID != id {
				continue
			}
			cards = append(cards[:i], cards[i+1:]...)
			renumber(cards)
			m.timeline[gameID] = cards
			m.touchGameLocked(gameID)
			return nil
		}
	}
	// Absent is a no-op, not an error.
	return nil
}

func (m *MemStore) WithGameLock(ctx context.Context, gameID string, fn func(ctx context.Context) error) error {
	m.lockMu.Lock()
	lock, ok := m.locks[gameID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[gameID] = lock
	}
	m.lockMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

func (m *MemStore) touchGameLocked(gameID string) {
	if g, ok := m.games[gameID]; ok {
		g.UpdatedAt = time.Now()
	}
}

func renumber(cards []*domain.TimelineCard) {
	for i, tc := range cards {
		tc.Position = i
	}
}

func copyGame(g *domain.Game) *domain.Game {
	out := *g
	out.State = g.State.Clone()
	return &out
}

func copyPlayer(p *domain.Player) *domain.Player {
	out := *p
	out.Hand = append([]string{}, p.Hand...)
	return &out
}
