package game

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"chronocards/internal/catalog"
	"chronocards/internal/domain"
	"chronocards/internal/feedback"
	"chronocards/internal/store"
)

const testCardsYAML = `cards:
  - id: pyramid
    name: Great Pyramid Completed
    value: -2500
    category: construction
  - id: rome
    name: Rome Founded
    value: -753
    category: politics
  - id: hastings
    name: Battle of Hastings
    value: 1066
    category: conflict
  - id: press
    name: Printing Press Invented
    value: 1440
    category: science
  - id: press-twin
    name: Another Event of 1440
    value: 1440
    category: culture
  - id: moon
    name: First Moon Landing
    value: 1969
    category: exploration
  - id: web
    name: World Wide Web Proposed
    value: 1991
    category: science
`

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cards.yaml")
	if err := os.WriteFile(path, []byte(testCardsYAML), 0o644); err != nil {
		t.Fatalf("write test cards: %v", err)
	}
	cards, err := catalog.New(path)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cards
}

func newTestEnv(t *testing.T) (*store.MemStore, *catalog.Catalog, *feedback.Catalog) {
	t.Helper()
	cards := newTestCatalog(t)
	msgs, err := feedback.New("")
	if err != nil {
		t.Fatalf("feedback.New: %v", err)
	}
	return store.NewMemStore(cards), cards, msgs
}

func mustCreateGame(t *testing.T, st *store.MemStore, roomCode string, maxPlayers int) *domain.Game {
	t.Helper()
	g, err := st.CreateGame(context.Background(), roomCode, maxPlayers)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	return g
}

func mustAddPlayer(t *testing.T, st *store.MemStore, roomCode, name string) *domain.Player {
	t.Helper()
	p, err := st.AddPlayer(context.Background(), roomCode, name)
	if err != nil {
		t.Fatalf("AddPlayer %s: %v", name, err)
	}
	return p
}

func mustPlace(t *testing.T, st *store.MemStore, gameID, cardID string, position int) *domain.TimelineCard {
	t.Helper()
	tc, err := st.AddTimelineCard(context.Background(), gameID, cardID, position)
	if err != nil {
		t.Fatalf("AddTimelineCard %s: %v", cardID, err)
	}
	return tc
}

func currentPlayerOf(t *testing.T, st *store.MemStore, gameID string) *domain.Player {
	t.Helper()
	players, err := st.PlayersByGame(context.Background(), gameID)
	if err != nil {
		t.Fatalf("PlayersByGame: %v", err)
	}
	var cur *domain.Player
	for _, p := range players {
		if p.IsCurrentTurn {
			if cur != nil {
				t.Fatalf("two players flagged as current: %s and %s", cur.ID, p.ID)
			}
			cur = p
		}
	}
	if cur == nil {
		t.Fatal("no player flagged as current")
	}
	return cur
}
