package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chronocards/internal/domain"
	"chronocards/internal/obslog"
	"chronocards/internal/store"
)

var (
	// ErrNoPlayers means turn order cannot be initialized for an empty game.
	ErrNoPlayers = errors.New("game has no players")
	// ErrNoTurnState means the game has not been started yet.
	ErrNoTurnState = errors.New("turn order not initialized")
	// ErrCorruptTurnState means the persisted turn state no longer matches
	// the game's players. It is surfaced, never silently repaired.
	ErrCorruptTurnState = errors.New("turn state does not match players")
)

// TurnInfo is the polling view of a game's turn state.
type TurnInfo struct {
	CurrentPlayer *domain.Player   `json:"currentPlayer"`
	TurnOrder     []*domain.Player `json:"turnOrder"`
	TurnNumber    int              `json:"turnNumber"`
	IsGameOver    bool             `json:"isGameOver"`
}

// Turns maintains the per-game turn permutation and the current-player
// flag. The flag has a single writer of record: this controller clears all
// other players before setting the new one.
type Turns struct {
	store store.Store
	rng   *shuffler
}

func NewTurns(st store.Store, rng *shuffler) *Turns {
	return &Turns{store: st, rng: rng}
}

// InitializeOrder shuffles the joined players into a fixed permutation,
// grants the first player the turn, and persists turn number 1.
func (t *Turns) InitializeOrder(ctx context.Context, gameID string) (*domain.TurnState, error) {
	g, players, err := t.store.GameWithPlayers(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("initialize turn order: %w", err)
	}
	if len(players) == 0 {
		return nil, fmt.Errorf("initialize turn order: %w", ErrNoPlayers)
	}

	shuffled := append([]*domain.Player(nil), players...)
	t.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	order := make([]string, len(shuffled))
	for i, p := range shuffled {
		order[i] = p.ID
	}
	ts := &domain.TurnState{
		TurnOrder:         order,
		CurrentPlayerID:   shuffled[0].ID,
		CurrentPlayerName: shuffled[0].Name,
		TurnNumber:        1,
	}

	state := g.State
	state.TurnState = ts
	if err := t.store.UpdateGameState(ctx, gameID, state); err != nil {
		return nil, fmt.Errorf("initialize turn order: %w", err)
	}
	if err := t.store.SetCurrentTurn(ctx, shuffled[0].ID); err != nil {
		return nil, fmt.Errorf("initialize turn order: %w", err)
	}
	obslog.L().Info("turn_order_initialized",
		zap.String("game_id", gameID),
		zap.Strings("order", order),
	)
	return ts.Clone(), nil
}

// NextTurn advances the current player circularly through the turn order
// and increments the turn number by exactly one.
func (t *Turns) NextTurn(ctx context.Context, gameID string) (*domain.TurnState, error) {
	g, err := t.store.GameByID(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("next turn: %w", err)
	}
	ts := g.State.TurnState
	if ts == nil || len(ts.TurnOrder) == 0 {
		return nil, fmt.Errorf("next turn: %w", ErrNoTurnState)
	}

	idx := -1
	for i, id := range ts.TurnOrder {
		if id == ts.CurrentPlayerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("next turn: player %s: %w", ts.CurrentPlayerID, ErrCorruptTurnState)
	}

	nextID := ts.TurnOrder[(idx+1)%len(ts.TurnOrder)]
	next, err := t.store.PlayerByID(ctx, nextID)
	if err != nil {
		return nil, fmt.Errorf("next turn: resolve player %s: %w", nextID, err)
	}

	if err := t.store.SetCurrentTurn(ctx, next.ID); err != nil {
		return nil, fmt.Errorf("next turn: %w", err)
	}

	ts.CurrentPlayerID = next.ID
	ts.CurrentPlayerName = next.Name
	ts.TurnNumber++
	state := g.State
	state.TurnState = ts
	if err := t.store.UpdateGameState(ctx, gameID, state); err != nil {
		return nil, fmt.Errorf("next turn: %w", err)
	}
	return ts.Clone(), nil
}

// CurrentPlayer returns the player holding the turn flag, or nil when no
// player does.
func (t *Turns) CurrentPlayer(ctx context.Context, gameID string) (*domain.Player, error) {
	players, err := t.store.PlayersByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if p.IsCurrentTurn {
			return p, nil
		}
	}
	return nil, nil
}

// IsPlayerTurn degrades to false on any underlying failure.
func (t *Turns) IsPlayerTurn(ctx context.Context, playerID, gameID string) bool {
	current, err := t.CurrentPlayer(ctx, gameID)
	if err != nil {
		obslog.L().Warn("is_player_turn_degraded", zap.String("game_id", gameID), zap.Error(err))
		return false
	}
	return current != nil && current.ID == playerID
}

// Order resolves the stored permutation to full player records, silently
// dropping ids that no longer resolve.
func (t *Turns) Order(ctx context.Context, gameID string) ([]*domain.Player, error) {
	g, err := t.store.GameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	ts := g.State.TurnState
	if ts == nil {
		return nil, nil
	}
	out := make([]*domain.Player, 0, len(ts.TurnOrder))
	for _, id := range ts.TurnOrder {
		p, err := t.store.PlayerByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Info composes the turn view the UI polls. Any underlying failure
// degrades to an empty result so polling never breaks on transient
// storage trouble.
func (t *Turns) Info(ctx context.Context, gameID string) *TurnInfo {
	info := &TurnInfo{}

	g, players, err := t.store.GameWithPlayers(ctx, gameID)
	if err != nil {
		obslog.L().Warn("turn_info_degraded", zap.String("game_id", gameID), zap.Error(err))
		return info
	}
	for _, p := range players {
		if p.IsCurrentTurn {
			info.CurrentPlayer = p
			break
		}
	}
	if ts := g.State.TurnState; ts != nil {
		info.TurnNumber = ts.TurnNumber
		if order, err := t.Order(ctx, gameID); err == nil {
			info.TurnOrder = order
		}
	}
	info.IsGameOver = allHandsEmpty(players)
	return info
}

// ResetOrder re-runs initialization with a fresh shuffle.
func (t *Turns) ResetOrder(ctx context.Context, gameID string) (*domain.TurnState, error) {
	return t.InitializeOrder(ctx, gameID)
}

func allHandsEmpty(players []*domain.Player) bool {
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if len(p.Hand) > 0 {
			return false
		}
	}
	return true
}
