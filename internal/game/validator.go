package game

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chronocards/internal/catalog"
	"chronocards/internal/domain"
	"chronocards/internal/feedback"
	"chronocards/internal/obslog"
	"chronocards/internal/store"
)

// Validation is the outcome of checking one proposed placement.
type Validation struct {
	Valid           bool   `json:"isValid"`
	CorrectPosition int    `json:"correctPosition"`
	ActualPosition  int    `json:"actualPosition"`
	Message         string `json:"message"`
	CardName        string `json:"cardName"`
	CardWhen        string `json:"cardDate"`
}

// TimelineStats summarizes how well a game's timeline is ordered.
type TimelineStats struct {
	TotalCards          int     `json:"totalCards"`
	CorrectPlacements   int     `json:"correctPlacements"`
	IncorrectPlacements int     `json:"incorrectPlacements"`
	Accuracy            float64 `json:"accuracy"`
}

// Validator decides whether placements are chronologically correct. It only
// reads; all mutation happens in the Manager.
type Validator struct {
	store store.Store
	cards *catalog.Catalog
	msgs  *feedback.Catalog
}

func NewValidator(st store.Store, cards *catalog.Catalog, msgs *feedback.Catalog) *Validator {
	return &Validator{store: st, cards: cards, msgs: msgs}
}

// CorrectPosition returns the index at which a card with the given value
// belongs on the timeline: before the first strictly greater entry, after
// any equal ones. An entry matching excludeCardID is skipped, which lets a
// caller re-derive the position for a card that is itself under evaluation.
func CorrectPosition(value int, timeline []*domain.TimelineEntry, excludeCardID string) int {
	pos := 0
	for _, e := range timeline {
		if excludeCardID != "" && e.CardID == excludeCardID {
			continue
		}
		if e.Card == nil {
			continue
		}
		if e.Card.Value > value {
			break
		}
		pos++
	}
	return pos
}

// ValidatePlacement checks a proposed (card, position) pair against the
// game's current timeline. A missing card or a storage failure is a hard
// error: the caller must abandon the whole placement attempt.
func (v *Validator) ValidatePlacement(ctx context.Context, gameID, cardID string, position int) (*Validation, error) {
	card, ok := v.cards.ByID(cardID)
	if !ok {
		return nil, fmt.Errorf("validate placement: card %s: %w", cardID, store.ErrNotFound)
	}
	timeline, err := v.store.TimelineByGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("validate placement: load timeline: %w", err)
	}

	if position < 0 {
		position = 0
	}
	if position > len(timeline) {
		position = len(timeline)
	}

	val := &Validation{
		ActualPosition: position,
		CardName:       card.Name,
		CardWhen:       feedback.When(card.Value),
	}

	hypothetical := make([]*domain.TimelineEntry, 0, len(timeline)+1)
	hypothetical = append(hypothetical, timeline[:position]...)
	hypothetical = append(hypothetical, &domain.TimelineEntry{
		TimelineCard: domain.TimelineCard{CardID: card.ID, GameID: gameID, Position: position},
		Card:         card,
	})
	hypothetical = append(hypothetical, timeline[position:]...)

	if ordered(hypothetical) {
		val.Valid = true
		val.CorrectPosition = position
		val.Message = v.msgs.CorrectPlacement(card.Name, card.Value, position)
		return val, nil
	}

	val.Valid = false
	val.CorrectPosition = CorrectPosition(card.Value, timeline, card.ID)
	val.Message = v.msgs.WrongPlacement(card.Name, card.Value, val.CorrectPosition, position)
	return val, nil
}

// ordered reports whether every adjacent pair is non-decreasing. Entries
// shorter than two are trivially ordered.
func ordered(timeline []*domain.TimelineEntry) bool {
	for i := 1; i < len(timeline); i++ {
		a, b := timeline[i-1].Card, timeline[i].Card
		if a == nil || b == nil {
			continue
		}
		if a.Value > b.Value {
			return false
		}
	}
	return true
}

// Stats walks the already-placed timeline and counts adjacent pairs in
// order. It backs a display path, so storage failures degrade to the
// empty-timeline result instead of erroring.
func (v *Validator) Stats(ctx context.Context, gameID string) *TimelineStats {
	timeline, err := v.store.TimelineByGame(ctx, gameID)
	if err != nil {
		obslog.L().Warn("timeline_stats_degraded", zap.String("game_id", gameID), zap.Error(err))
		return &TimelineStats{Accuracy: 100}
	}
	stats := &TimelineStats{TotalCards: len(timeline)}
	if stats.TotalCards <= 1 {
		stats.Accuracy = 100
		return stats
	}
	for i := 1; i < len(timeline); i++ {
		a, b := timeline[i-1].Card, timeline[i].Card
		if a != nil && b != nil && a.Value > b.Value {
			stats.IncorrectPlacements++
			continue
		}
		stats.CorrectPlacements++
	}
	stats.Accuracy = float64(stats.CorrectPlacements) / float64(stats.TotalCards-1) * 100
	return stats
}

// Hint returns a human-readable nudge about where a card belongs. It never
// fails: unknown cards get the generic fallback.
func (v *Validator) Hint(cardID string) string {
	card, ok := v.cards.ByID(cardID)
	if !ok {
		return v.msgs.HintFallback()
	}
	return v.msgs.Hint(card.Name, card.Value)
}
