package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chronocards/internal/catalog"
	"chronocards/internal/domain"
)

const (
	lockTTL    = 10 * time.Second
	lockWait   = 3 * time.Second
	lockRetry  = 25 * time.Millisecond
	defaultTTL = 24 * time.Hour
)

// releaseScript deletes the lock key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore keeps live game state in Redis: one JSON blob per record, a
// list per game for join order, and a set index for the cleanup sweep. All
// keys carry the room TTL so abandoned rooms age out even if the sweep
// never runs.
type RedisStore struct {
	rdb   *redis.Client
	cards *catalog.Catalog
	ttl   time.Duration
}

func NewRedisStore(rdb *redis.Client, cards *catalog.Catalog, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{rdb: rdb, cards: cards, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func keyGame(id string) string        { return "cc:game:" + strings.TrimSpace(id) }
func keyCode(code string) string      { return "cc:code:" + strings.TrimSpace(code) }
func keyPlayer(id string) string      { return "cc:player:" + strings.TrimSpace(id) }
func keyPlayers(id string) string     { return keyGame(id) + ":players" }
func keyTimeline(id string) string    { return keyGame(id) + ":timeline" }
func keyTimelineIdx(id string) string { return "cc:tlcard:" + strings.TrimSpace(id) }
func keyGameIndex() string            { return "cc:games" }
func keyLock(id string) string        { return "cc:lock:" + strings.TrimSpace(id) }

func (s *RedisStore) CreateGame(ctx context.Context, roomCode string, maxPlayers int) (*domain.Game, error) {
	roomCode = strings.TrimSpace(roomCode)
	now := time.Now()
	g := &domain.Game{
		ID:         uuid.NewString(),
		RoomCode:   roomCode,
		MaxPlayers: maxPlayers,
		Phase:      domain.PhaseWaiting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Claim the code first so two creators can never share one.
	ok, err := s.rdb.SetNX(ctx, keyCode(roomCode), g.ID, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim room code: %w", err)
	}
	if !ok {
		return nil, ErrRoomCodeTaken
	}
	if err := s.saveGame(ctx, g); err != nil {
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, keyGameIndex(), g.ID).Err(); err != nil {
		return nil, fmt.Errorf("index game: %w", err)
	}
	return g, nil
}

func (s *RedisStore) GameByRoomCode(ctx context.Context, roomCode string) (*domain.Game, error) {
	id, err := s.rdb.Get(ctx, keyCode(roomCode)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GameByID(ctx, id)
}

func (s *RedisStore) GameByID(ctx context.Context, id string) (*domain.Game, error) {
	raw, err := s.rdb.Get(ctx, keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g domain.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	return &g, nil
}

func (s *RedisStore) GameWithPlayers(ctx context.Context, id string) (*domain.Game, []*domain.Player, error) {
	g, err := s.GameByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	players, err := s.PlayersByGame(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return g, players, nil
}

func (s *RedisStore) UpdateGameState(ctx context.Context, gameID string, state domain.GameState) error {
	g, err := s.GameByID(ctx, gameID)
	if err != nil {
		return err
	}
	g.State = state
	g.UpdatedAt = time.Now()
	return s.saveGame(ctx, g)
}

func (s *RedisStore) UpdateGamePhase(ctx context.Context, roomCode string, phase domain.Phase) error {
	g, err := s.GameByRoomCode(ctx, roomCode)
	if err != nil {
		return err
	}
	g.Phase = phase
	g.UpdatedAt = time.Now()
	return s.saveGame(ctx, g)
}

func (s *RedisStore) PlayerCount(ctx context.Context, gameID string) (int, error) {
	if _, err := s.GameByID(ctx, gameID); err != nil {
		return 0, err
	}
	n, err := s.rdb.LLen(ctx, keyPlayers(gameID)).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) IsFull(ctx context.Context, gameID string) (bool, error) {
	g, err := s.GameByID(ctx, gameID)
	if err != nil {
		return false, err
	}
	n, err := s.rdb.LLen(ctx, keyPlayers(gameID)).Result()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return int(n) >= g.MaxPlayers, nil
}

func (s *RedisStore) CleanupInactive(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	ids, err := s.rdb.SMembers(ctx, keyGameIndex()).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		g, err := s.GameByID(ctx, id)
		if err == ErrNotFound {
			// Record already expired via TTL; drop the index entry.
			_ = s.rdb.SRem(ctx, keyGameIndex(), id).Err()
			continue
		}
		if err != nil {
			return removed, err
		}
		if g.Phase == domain.PhasePlaying || g.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.dropGame(ctx, g); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *RedisStore) dropGame(ctx context.Context, g *domain.Game) error {
	playerIDs, _ := s.rdb.LRange(ctx, keyPlayers(g.ID), 0, -1).Result()
	tl, _ := s.loadTimeline(ctx, g.ID)

	pipe := s.rdb.TxPipeline()
	for _, pid := range playerIDs {
		pipe.Del(ctx, keyPlayer(pid))
	}
	for _, tc := range tl {
		pipe.Del(ctx, keyTimelineIdx(tc.ID))
	}
	pipe.Del(ctx, keyPlayers(g.ID), keyTimeline(g.ID), keyGame(g.ID), keyCode(g.RoomCode))
	pipe.SRem(ctx, keyGameIndex(), g.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// AddPlayer joins a player to a room. The players list is WATCHed so a
// concurrent join cannot overshoot MaxPlayers or reuse a name.
func (s *RedisStore) AddPlayer(ctx context.Context, roomCode, name string) (*domain.Player, error) {
	name = strings.TrimSpace(name)
	g, err := s.GameByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	p := &domain.Player{
		ID:       uuid.NewString(),
		GameID:   g.ID,
		Name:     name,
		Hand:     []string{},
		JoinedAt: time.Now(),
	}
	listKey := keyPlayers(g.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		ids, err := tx.LRange(ctx, listKey, 0, -1).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if len(ids) >= g.MaxPlayers {
			return ErrGameFull
		}
		for _, pid := range ids {
			other, err := s.loadPlayer(ctx, pid)
			if err != nil {
				continue
			}
			if strings.EqualFold(other.Name, name) {
				return ErrNameTaken
			}
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.RPush(ctx, listKey, p.ID)
		pipe.Expire(ctx, listKey, s.ttl)
		pipe.Set(ctx, keyPlayer(p.ID), raw, s.ttl)
		_, err = pipe.Exec(ctx)
		return err
	}, listKey)
	if err != nil {
		return nil, err
	}
	g.UpdatedAt = time.Now()
	_ = s.saveGame(ctx, g)
	return p, nil
}

func (s *RedisStore) PlayerByID(ctx context.Context, id string) (*domain.Player, error) {
	return s.loadPlayer(ctx, id)
}

func (s *RedisStore) loadPlayer(ctx context.Context, id string) (*domain.Player, error) {
	raw, err := s.rdb.Get(ctx, keyPlayer(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p domain.Player
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode player: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) savePlayer(ctx context.Context, p *domain.Player) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyPlayer(p.ID), raw, s.ttl).Err()
}

func (s *RedisStore) PlayersByGame(ctx context.Context, gameID string) ([]*domain.Player, error) {
	if _, err := s.GameByID(ctx, gameID); err != nil {
		return nil, err
	}
	ids, err := s.rdb.LRange(ctx, keyPlayers(gameID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]*domain.Player, 0, len(ids))
	for _, pid := range ids {
		p, err := s.loadPlayer(ctx, pid)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) UpdateHand(ctx context.Context, playerID string, cardIDs []string) error {
	p, err := s.loadPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	p.Hand = append([]string{}, cardIDs...)
	if err := s.savePlayer(ctx, p); err != nil {
		return err
	}
	return s.touchGame(ctx, p.GameID)
}

func (s *RedisStore) SetCurrentTurn(ctx context.Context, playerID string) error {
	p, err := s.loadPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	players, err := s.PlayersByGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, other := range players {
		other.IsCurrentTurn = other.ID == playerID
		raw, err := json.Marshal(other)
		if err != nil {
			return err
		}
		pipe.Set(ctx, keyPlayer(other.ID), raw, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.touchGame(ctx, p.GameID)
}

func (s *RedisStore) UpdateScore(ctx context.Context, playerID string, score int) error {
	p, err := s.loadPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	p.Score = score
	if err := s.savePlayer(ctx, p); err != nil {
		return err
	}
	return s.touchGame(ctx, p.GameID)
}

func (s *RedisStore) AddTimelineCard(ctx context.Context, gameID, cardID string, position int) (*domain.TimelineCard, error) {
	if _, err := s.GameByID(ctx, gameID); err != nil {
		return nil, err
	}
	cards, err := s.loadTimeline(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		position = 0
	}
	if position > len(cards) {
		position = len(cards)
	}
	tc := domain.TimelineCard{
		ID:       uuid.NewString(),
		GameID:   gameID,
		CardID:   cardID,
		Position: position,
		PlacedAt: time.Now(),
	}
	cards = append(cards, domain.TimelineCard{})
	copy(cards[position+1:], cards[position:])
	cards[position] = tc
	for i := range cards {
		cards[i].Position = i
	}
	if err := s.saveTimeline(ctx, gameID, cards); err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, keyTimelineIdx(tc.ID), gameID, s.ttl).Err(); err != nil {
		return nil, err
	}
	if err := s.touchGame(ctx, gameID); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (s *RedisStore) TimelineByGame(ctx context.Context, gameID string) ([]*domain.TimelineEntry, error) {
	if _, err := s.GameByID(ctx, gameID); err != nil {
		return nil, err
	}
	cards, err := s.loadTimeline(ctx, gameID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.TimelineEntry, 0, len(cards))
	for _, tc := range cards {
		entry := &domain.TimelineEntry{TimelineCard: tc}
		if card, ok := s.cards.ByID(tc.CardID); ok {
			entry.Card = card
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *RedisStore) RemoveTimelineCard(ctx context.Context, id string) error {
	gameID, err := s.rdb.Get(ctx, keyTimelineIdx(id)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	cards, err := s.loadTimeline(ctx, gameID)
	if err != nil {
		return err
	}
	kept := cards[:0]
	for _, tc := range cards {
		if tc.ID != id {
			kept = append(kept, tc)
		}
	}
	for i := range kept {
		kept[i].Position = i
	}
	if err := s.saveTimeline(ctx, gameID, kept); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, keyTimelineIdx(id)).Err(); err != nil {
		return err
	}
	return s.touchGame(ctx, gameID)
}

func (s *RedisStore) loadTimeline(ctx context.Context, gameID string) ([]domain.TimelineCard, error) {
	raw, err := s.rdb.Get(ctx, keyTimeline(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cards []domain.TimelineCard
	if err := json.Unmarshal(raw, &cards); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	return cards, nil
}

func (s *RedisStore) saveTimeline(ctx context.Context, gameID string, cards []domain.TimelineCard) error {
	raw, err := json.Marshal(cards)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyTimeline(gameID), raw, s.ttl).Err()
}

// WithGameLock serializes work on one game across processes with a token
// lock. The token guard keeps a slow holder from releasing a successor's
// lock after expiry.
func (s *RedisStore) WithGameLock(ctx context.Context, gameID string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	key := keyLock(gameID)
	deadline := time.Now().Add(lockWait)
	for {
		ok, err := s.rdb.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire game lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("game %s is busy", gameID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetry):
		}
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), s.rdb, []string{key}, token).Err()
	}()
	return fn(ctx)
}

func (s *RedisStore) saveGame(ctx context.Context, g *domain.Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode game: %w", err)
	}
	if err := s.rdb.Set(ctx, keyGame(g.ID), raw, s.ttl).Err(); err != nil {
		return err
	}
	// Keep companion keys alive as long as the game record.
	_ = s.rdb.Expire(ctx, keyCode(g.RoomCode), s.ttl).Err()
	_ = s.rdb.Expire(ctx, keyPlayers(g.ID), s.ttl).Err()
	_ = s.rdb.Expire(ctx, keyTimeline(g.ID), s.ttl).Err()
	return nil
}

func (s *RedisStore) touchGame(ctx context.Context, gameID string) error {
	g, err := s.GameByID(ctx, gameID)
	if err != nil {
		return err
	}
	g.UpdatedAt = time.Now()
	return s.saveGame(ctx, g)
}
