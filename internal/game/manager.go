package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"chronocards/internal/catalog"
	"chronocards/internal/domain"
	"chronocards/internal/feedback"
	"chronocards/internal/obslog"
	"chronocards/internal/store"
)

var (
	ErrNotPlayersTurn = errors.New("not this player's turn")
	ErrGameNotActive  = errors.New("game is not in progress")
	ErrAlreadyStarted = errors.New("game already started")
	ErrCardNotInHand  = errors.New("card is not in the player's hand")
	ErrGameStarted    = errors.New("game already started, cannot join")
)

const (
	roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6
	roomCodeRetries  = 5
)

// GameResult is the summary handed to a ResultRecorder when a game ends.
type GameResult struct {
	RoomCode    string
	WinnerName  string
	PlayerCount int
	TurnCount   int
	FinishedAt  time.Time
}

// ResultRecorder persists finished games. Recording is best effort: a
// failure is logged and never blocks the game from finishing.
type ResultRecorder interface {
	SaveResult(ctx context.Context, r GameResult) error
}

// PlacementResult is the full outcome of one placement attempt.
type PlacementResult struct {
	Success    bool              `json:"success"`
	Validation *Validation       `json:"validation"`
	DrawnCard  *domain.Card      `json:"drawnCard,omitempty"`
	TurnState  *domain.TurnState `json:"turnState,omitempty"`
	GameOver   bool              `json:"gameOver"`
	Winner     *domain.Player    `json:"winner,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// GameView is the polling snapshot of a room.
type GameView struct {
	Game     *domain.Game            `json:"game"`
	Players  []*domain.Player        `json:"players"`
	Timeline []*domain.TimelineEntry `json:"timeline"`
	Turn     *TurnInfo               `json:"turn"`
	Stats    *TimelineStats          `json:"stats"`
	DrawPile int                     `json:"drawPile"`
}

// Manager orchestrates the full game lifecycle: room creation, joins,
// dealing, placement attempts and game end. All mutating paths for a room
// run under the store's per-game lock.
type Manager struct {
	store     store.Store
	cards     *catalog.Catalog
	msgs      *feedback.Catalog
	validator *Validator
	deck      *Deck
	turns     *Turns

	cardsPerPlayer int
	recorder       ResultRecorder
}

func NewManager(st store.Store, cards *catalog.Catalog, msgs *feedback.Catalog, cardsPerPlayer int) *Manager {
	rng := newShuffler(nil)
	return &Manager{
		store:          st,
		cards:          cards,
		msgs:           msgs,
		validator:      NewValidator(st, cards, msgs),
		deck:           NewDeck(st, cards, rng),
		turns:          NewTurns(st, rng),
		cardsPerPlayer: cardsPerPlayer,
	}
}

// AttachRecorder is optional; without one finished games are only logged.
func (m *Manager) AttachRecorder(r ResultRecorder) { m.recorder = r }

// CreateGame allocates a room with a fresh code. Code collisions are
// retried a bounded number of times before giving up.
func (m *Manager) CreateGame(ctx context.Context, maxPlayers int) (*domain.Game, error) {
	if maxPlayers < 1 {
		maxPlayers = 2
	}
	var lastErr error
	for attempt := 0; attempt < roomCodeRetries; attempt++ {
		code, err := gonanoid.Generate(roomCodeAlphabet, roomCodeLength)
		if err != nil {
			return nil, fmt.Errorf("create game: generate room code: %w", err)
		}
		g, err := m.store.CreateGame(ctx, code, maxPlayers)
		if errors.Is(err, store.ErrRoomCodeTaken) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create game: %w", err)
		}
		obslog.L().Info("game_created",
			zap.String("room_code", g.RoomCode),
			zap.Int("max_players", g.MaxPlayers),
		)
		return g, nil
	}
	return nil, fmt.Errorf("create game: exhausted room code attempts: %w", lastErr)
}

// Join adds a player to a waiting room. The first joiner provisionally
// holds the turn flag until Start reshuffles the order.
func (m *Manager) Join(ctx context.Context, roomCode, name string) (*domain.Player, error) {
	g, err := m.store.GameByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", roomCode, err)
	}
	if g.Phase != domain.PhaseWaiting {
		return nil, fmt.Errorf("join %s: %w", roomCode, ErrGameStarted)
	}
	p, err := m.store.AddPlayer(ctx, roomCode, name)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", roomCode, err)
	}
	count, err := m.store.PlayerCount(ctx, g.ID)
	if err == nil && count == 1 {
		if err := m.store.SetCurrentTurn(ctx, p.ID); err != nil {
			obslog.L().Warn("join_set_first_turn", zap.String("room_code", roomCode), zap.Error(err))
		}
	}
	obslog.L().Info("player_joined",
		zap.String("room_code", roomCode),
		zap.String("player", p.Name),
	)
	return p, nil
}

// Start deals the opening hands, fixes the turn order and moves the game
// to the playing phase.
func (m *Manager) Start(ctx context.Context, roomCode string) (*domain.TurnState, error) {
	g, err := m.store.GameByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", roomCode, err)
	}

	var ts *domain.TurnState
	err = m.store.WithGameLock(ctx, g.ID, func(ctx context.Context) error {
		cur, err := m.store.GameByID(ctx, g.ID)
		if err != nil {
			return err
		}
		if cur.Phase != domain.PhaseWaiting {
			return ErrAlreadyStarted
		}
		if err := m.deck.DealInitialCards(ctx, g.ID, m.cardsPerPlayer); err != nil {
			return err
		}
		ts, err = m.turns.InitializeOrder(ctx, g.ID)
		if err != nil {
			return err
		}
		return m.store.UpdateGamePhase(ctx, roomCode, domain.PhasePlaying)
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", roomCode, err)
	}
	obslog.L().Info("game_started",
		zap.String("room_code", roomCode),
		zap.Strings("order", ts.TurnOrder),
	)
	return ts, nil
}

// AttemptPlacement runs one full move under the game lock: turn and hand
// checks, validation, then either the card lands on the timeline or it is
// lost and replaced. Either way the turn passes, unless the game ends.
func (m *Manager) AttemptPlacement(ctx context.Context, roomCode, playerID, cardID string, position int) (*PlacementResult, error) {
	g, err := m.store.GameByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, fmt.Errorf("place in %s: %w", roomCode, err)
	}

	var res *PlacementResult
	err = m.store.WithGameLock(ctx, g.ID, func(ctx context.Context) error {
		res, err = m.applyPlacement(ctx, g.ID, playerID, cardID, position)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("place in %s: %w", roomCode, err)
	}
	return res, nil
}

func (m *Manager) applyPlacement(ctx context.Context, gameID, playerID, cardID string, position int) (*PlacementResult, error) {
	g, err := m.store.GameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Phase != domain.PhasePlaying {
		return nil, ErrGameNotActive
	}

	player, err := m.store.PlayerByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !player.IsCurrentTurn {
		return nil, ErrNotPlayersTurn
	}
	if !slices.Contains(player.Hand, cardID) {
		return nil, ErrCardNotInHand
	}

	validation, err := m.validator.ValidatePlacement(ctx, gameID, cardID, position)
	if err != nil {
		return nil, err
	}

	res := &PlacementResult{
		Success:    validation.Valid,
		Validation: validation,
		Message:    validation.Message,
	}

	if validation.Valid {
		if _, err := m.store.AddTimelineCard(ctx, gameID, cardID, position); err != nil {
			return nil, err
		}
		if err := m.deck.RemoveFromHand(ctx, playerID, cardID); err != nil {
			return nil, err
		}
		if err := m.store.UpdateScore(ctx, playerID, player.Score+1); err != nil {
			return nil, err
		}
		player.Score++
		if m.deck.HasWon(ctx, playerID) {
			if fresh, err := m.store.PlayerByID(ctx, playerID); err == nil {
				player = fresh
			}
			return res, m.finishGame(ctx, g, player, res)
		}
	} else {
		if err := m.deck.RemoveFromHand(ctx, playerID, cardID); err != nil {
			return nil, err
		}
		drawn, err := m.deck.Draw(ctx, playerID)
		if err != nil {
			return nil, err
		}
		res.DrawnCard = drawn
		if drawn == nil {
			obslog.L().Warn("draw_pile_exhausted",
				zap.String("room_code", g.RoomCode),
				zap.String("player", player.Name),
			)
		}
	}

	// Turn passes on both outcomes. With the pool exhausted a player can
	// end up with an empty hand without having won; when everyone is in
	// that state the game ends on points.
	players, err := m.store.PlayersByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if allHandsEmpty(players) {
		top := players[0]
		for _, p := range players[1:] {
			if p.Score > top.Score {
				top = p
			}
		}
		return res, m.finishGame(ctx, g, top, res)
	}

	ts, err := m.turns.NextTurn(ctx, gameID)
	if err != nil {
		return nil, err
	}
	res.TurnState = ts
	return res, nil
}

func (m *Manager) finishGame(ctx context.Context, g *domain.Game, winner *domain.Player, res *PlacementResult) error {
	if err := m.store.UpdateGamePhase(ctx, g.RoomCode, domain.PhaseFinished); err != nil {
		return err
	}
	res.GameOver = true
	res.Winner = winner
	res.Message = m.msgs.GameWon(winner.Name)

	turnCount := 0
	if g.State.TurnState != nil {
		turnCount = g.State.TurnState.TurnNumber
	}
	playerCount, _ := m.store.PlayerCount(ctx, g.ID)

	obslog.L().Info("game_finished",
		zap.String("room_code", g.RoomCode),
		zap.String("winner", winner.Name),
		zap.Int("turns", turnCount),
	)
	if m.recorder != nil {
		r := GameResult{
			RoomCode:    g.RoomCode,
			WinnerName:  winner.Name,
			PlayerCount: playerCount,
			TurnCount:   turnCount,
			FinishedAt:  time.Now().UTC(),
		}
		if err := m.recorder.SaveResult(ctx, r); err != nil {
			obslog.L().Warn("record_result_failed", zap.String("room_code", g.RoomCode), zap.Error(err))
		}
	}
	return nil
}

// View assembles the polling snapshot for a room.
func (m *Manager) View(ctx context.Context, roomCode string) (*GameView, error) {
	g, err := m.store.GameByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", roomCode, err)
	}
	players, err := m.store.PlayersByGame(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", roomCode, err)
	}
	timeline, err := m.store.TimelineByGame(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", roomCode, err)
	}
	return &GameView{
		Game:     g,
		Players:  players,
		Timeline: timeline,
		Turn:     m.turns.Info(ctx, g.ID),
		Stats:    m.validator.Stats(ctx, g.ID),
		DrawPile: m.deck.RemainingCount(ctx, g.ID),
	}, nil
}

// Hint never fails; unknown cards get the generic fallback line.
func (m *Manager) Hint(cardID string) string {
	return m.validator.Hint(cardID)
}

// Timeline returns the ordered timeline for a room.
func (m *Manager) Timeline(ctx context.Context, roomCode string) ([]*domain.TimelineEntry, error) {
	g, err := m.store.GameByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return m.store.TimelineByGame(ctx, g.ID)
}

// Cleanup drops stale rooms; called on a timer by the server process.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) {
	n, err := m.store.CleanupInactive(ctx, olderThan)
	if err != nil {
		obslog.L().Warn("cleanup_failed", zap.Error(err))
		return
	}
	if n > 0 {
		obslog.L().Info("cleanup_removed_rooms", zap.Int("count", n))
	}
}
