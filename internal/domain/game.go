package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Difficulty buckets cards for optional filtered draws.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Phase represents the lifecycle stage of a game. Transitions are forward
// only: WAITING → PLAYING → FINISHED.
type Phase string

const (
	PhaseWaiting  Phase = "WAITING"
	PhasePlaying  Phase = "PLAYING"
	PhaseFinished Phase = "FINISHED"
)

// Card is one historical event. Cards are loaded once from the seed catalog
// and never mutated. Value is the ordering key: a signed integer on an
// arbitrary scale, negative for BCE events. It is not a calendar date.
type Card struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Value       int        `json:"value" yaml:"value"`
	Difficulty  Difficulty `json:"difficulty" yaml:"difficulty"`
	Category    string     `json:"category" yaml:"category"`
}

// Game is one match, joined through its room code.
type Game struct {
	ID         string    `json:"id"`
	RoomCode   string    `json:"room_code"`
	MaxPlayers int       `json:"max_players"`
	Phase      Phase     `json:"phase"`
	State      GameState `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Player belongs to exactly one game. At most one player per game carries
// the turn flag at any time.
type Player struct {
	ID            string    `json:"id"`
	GameID        string    `json:"game_id"`
	Name          string    `json:"name"`
	Hand          []string  `json:"hand"`
	IsCurrentTurn bool      `json:"is_current_turn"`
	Score         int       `json:"score"`
	JoinedAt      time.Time `json:"joined_at"`
}

// TimelineCard is an accepted placement. Positions for a game are dense,
// 0..N-1, with no gaps or duplicates after every mutation.
type TimelineCard struct {
	ID       string    `json:"id"`
	GameID   string    `json:"game_id"`
	CardID   string    `json:"card_id"`
	Position int       `json:"position"`
	PlacedAt time.Time `json:"placed_at"`
}

// TimelineEntry is a placement joined with its catalog card, as returned by
// timeline reads.
type TimelineEntry struct {
	TimelineCard
	Card *Card `json:"card"`
}

// TurnState is the turn-tracking substructure embedded in GameState.
// TurnOrder is a fixed permutation of player ids established once per game.
type TurnState struct {
	TurnOrder         []string `json:"turnOrder"`
	CurrentPlayerID   string   `json:"currentPlayerId"`
	CurrentPlayerName string   `json:"currentPlayerName"`
	TurnNumber        int      `json:"turnNumber"`
}

// Clone returns a deep copy.
func (t *TurnState) Clone() *TurnState {
	if t == nil {
		return nil
	}
	out := *t
	out.TurnOrder = append([]string(nil), t.TurnOrder...)
	return &out
}

// GameState is the opaque state blob persisted on a Game record. The core
// only interprets the turnState key; any sibling keys written by features
// outside the core must survive a load/store round trip untouched.
type GameState struct {
	TurnState *TurnState

	extra map[string]json.RawMessage
}

func (s GameState) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.extra)+1)
	for k, v := range s.extra {
		out[k] = v
	}
	if s.TurnState != nil {
		raw, err := json.Marshal(s.TurnState)
		if err != nil {
			return nil, fmt.Errorf("marshal turn state: %w", err)
		}
		out["turnState"] = raw
	}
	return json.Marshal(out)
}

func (s *GameState) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.TurnState = nil
	if ts, ok := raw["turnState"]; ok {
		var t TurnState
		if err := json.Unmarshal(ts, &t); err != nil {
			return fmt.Errorf("unmarshal turn state: %w", err)
		}
		s.TurnState = &t
		delete(raw, "turnState")
	}
	s.extra = raw
	return nil
}

// Clone returns a deep copy; the extra blob is shared-safe because raw
// messages are never mutated in place.
func (s GameState) Clone() GameState {
	out := GameState{TurnState: s.TurnState.Clone()}
	if len(s.extra) > 0 {
		out.extra = make(map[string]json.RawMessage, len(s.extra))
		for k, v := range s.extra {
			out.extra[k] = v
		}
	}
	return out
}
