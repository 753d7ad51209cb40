package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"chronocards/internal/catalog"
	"chronocards/internal/domain"
	"chronocards/internal/obslog"
	"chronocards/internal/store"
)

// shuffler wraps a seedable RNG behind a mutex; *rand.Rand is not safe for
// concurrent use and deck and turn logic share one source.
type shuffler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newShuffler(rng *rand.Rand) *shuffler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &shuffler{rng: rng}
}

func (s *shuffler) Shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	s.rng.Shuffle(n, swap)
	s.mu.Unlock()
}

func (s *shuffler) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Deck owns the mapping between undistributed catalog cards and player
// hands: the initial deal, replacement draws, and the hand-empty win check.
type Deck struct {
	store store.Store
	cards *catalog.Catalog
	rng   *shuffler
}

func NewDeck(st store.Store, cards *catalog.Catalog, rng *shuffler) *Deck {
	return &Deck{store: st, cards: cards, rng: rng}
}

// DealInitialCards shuffles the full catalog and hands out contiguous,
// non-overlapping chunks in player-list order. When the catalog is smaller
// than players × cardsPerPlayer, later players get short or empty hands;
// that is accepted, not an error.
func (d *Deck) DealInitialCards(ctx context.Context, gameID string, cardsPerPlayer int) error {
	players, err := d.store.PlayersByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("deal initial cards: %w", err)
	}
	deck := d.cards.All()
	d.rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	if len(deck) < len(players)*cardsPerPlayer {
		obslog.L().Warn("deal_short_deck",
			zap.String("game_id", gameID),
			zap.Int("catalog", len(deck)),
			zap.Int("players", len(players)),
			zap.Int("cards_per_player", cardsPerPlayer),
		)
	}

	for i, p := range players {
		start := i * cardsPerPlayer
		if start > len(deck) {
			start = len(deck)
		}
		end := start + cardsPerPlayer
		if end > len(deck) {
			end = len(deck)
		}
		hand := make([]string, 0, end-start)
		for _, card := range deck[start:end] {
			hand = append(hand, card.ID)
		}
		if err := d.store.UpdateHand(ctx, p.ID, hand); err != nil {
			return fmt.Errorf("deal initial cards: player %s: %w", p.ID, err)
		}
	}
	return nil
}

// Draw hands the player one card chosen uniformly from the catalog cards
// not held in any hand or placed on the game's timeline. A nil card with a
// nil error means the deck is exhausted.
func (d *Deck) Draw(ctx context.Context, playerID string) (*domain.Card, error) {
	p, err := d.store.PlayerByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("draw card: %w", err)
	}
	players, err := d.store.PlayersByGame(ctx, p.GameID)
	if err != nil {
		return nil, fmt.Errorf("draw card: load players: %w", err)
	}
	timeline, err := d.store.TimelineByGame(ctx, p.GameID)
	if err != nil {
		return nil, fmt.Errorf("draw card: load timeline: %w", err)
	}

	used := make(map[string]bool, len(timeline))
	for _, other := range players {
		for _, id := range other.Hand {
			used[id] = true
		}
	}
	for _, e := range timeline {
		used[e.CardID] = true
	}

	var candidates []domain.Card
	for _, card := range d.cards.All() {
		if !used[card.ID] {
			candidates = append(candidates, card)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	card := candidates[d.rng.Intn(len(candidates))]
	if err := d.store.UpdateHand(ctx, playerID, append(p.Hand, card.ID)); err != nil {
		return nil, fmt.Errorf("draw card: update hand: %w", err)
	}
	return &card, nil
}

// RemoveFromHand removes a card by value. Removing a card that is not in
// the hand is a no-op.
func (d *Deck) RemoveFromHand(ctx context.Context, playerID, cardID string) error {
	p, err := d.store.PlayerByID(ctx, playerID)
	if err != nil {
		return fmt.Errorf("remove card from hand: %w", err)
	}
	kept := make([]string, 0, len(p.Hand))
	removed := false
	for _, id := range p.Hand {
		if id == cardID && !removed {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return nil
	}
	if err := d.store.UpdateHand(ctx, playerID, kept); err != nil {
		return fmt.Errorf("remove card from hand: %w", err)
	}
	return nil
}

// HasWon reports whether the player's hand is empty. Display path: errors
// degrade to false.
func (d *Deck) HasWon(ctx context.Context, playerID string) bool {
	p, err := d.store.PlayerByID(ctx, playerID)
	if err != nil {
		obslog.L().Warn("has_won_degraded", zap.String("player_id", playerID), zap.Error(err))
		return false
	}
	return len(p.Hand) == 0
}

// RemainingCount is the number of catalog cards neither held in any hand
// nor placed on the timeline. Display path: errors degrade to zero.
func (d *Deck) RemainingCount(ctx context.Context, gameID string) int {
	players, err := d.store.PlayersByGame(ctx, gameID)
	if err != nil {
		obslog.L().Warn("remaining_count_degraded", zap.String("game_id", gameID), zap.Error(err))
		return 0
	}
	timeline, err := d.store.TimelineByGame(ctx, gameID)
	if err != nil {
		obslog.L().Warn("remaining_count_degraded", zap.String("game_id", gameID), zap.Error(err))
		return 0
	}
	used := make(map[string]bool)
	for _, p := range players {
		for _, id := range p.Hand {
			used[id] = true
		}
	}
	for _, e := range timeline {
		used[e.CardID] = true
	}
	remaining := d.cards.Size() - len(used)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
