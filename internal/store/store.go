package store

import (
	"context"
	"time"

	"chronocards/internal/domain"
)

// Sentinel errors. Callers branch with errors.Is: ErrNotFound means the
// record does not exist, the others are conflicts where a retry of the same
// request cannot succeed.
var (
	ErrNotFound      = errf("record not found")
	ErrGameFull      = errf("game already has the maximum number of players")
	ErrNameTaken     = errf("player name already taken in this game")
	ErrRoomCodeTaken = errf("room code already in use")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Store is the persistence boundary for the game core. Two implementations
// exist: MemStore for tests and single-process runs, RedisStore for shared
// deployments. The core is written against this interface only.
type Store interface {
	// Games.
	CreateGame(ctx context.Context, roomCode string, maxPlayers int) (*domain.Game, error)
	GameByRoomCode(ctx context.Context, roomCode string) (*domain.Game, error)
	GameByID(ctx context.Context, id string) (*domain.Game, error)
	GameWithPlayers(ctx context.Context, id string) (*domain.Game, []*domain.Player, error)
	UpdateGameState(ctx context.Context, gameID string, state domain.GameState) error
	UpdateGamePhase(ctx context.Context, roomCode string, phase domain.Phase) error
	PlayerCount(ctx context.Context, gameID string) (int, error)
	IsFull(ctx context.Context, gameID string) (bool, error)
	CleanupInactive(ctx context.Context, olderThan time.Duration) (int, error)

	// Players. AddPlayer serializes internally against concurrent joins to
	// the same game; it must not be called from inside WithGameLock.
	AddPlayer(ctx context.Context, roomCode, name string) (*domain.Player, error)
	PlayerByID(ctx context.Context, id string) (*domain.Player, error)
	PlayersByGame(ctx context.Context, gameID string) ([]*domain.Player, error)
	UpdateHand(ctx context.Context, playerID string, cardIDs []string) error
	SetCurrentTurn(ctx context.Context, playerID string) error
	UpdateScore(ctx context.Context, playerID string, score int) error

	// Timeline. Insertion shifts subsequent positions by one; removal
	// renumbers so positions stay dense 0..N-1. Removing an id that does
	// not exist is a no-op.
	AddTimelineCard(ctx context.Context, gameID, cardID string, position int) (*domain.TimelineCard, error)
	TimelineByGame(ctx context.Context, gameID string) ([]*domain.TimelineEntry, error)
	RemoveTimelineCard(ctx context.Context, id string) error

	// WithGameLock runs fn while holding the single-flight lock for the
	// game. Concurrent placement attempts on one room serialize here; the
	// lock is not reentrant.
	WithGameLock(ctx context.Context, gameID string, fn func(ctx context.Context) error) error
}
