package game

import (
	"context"
	"math/rand"
	"testing"
)

func TestDealInitialCardsConservation(t *testing.T) {
	st, cards, _ := newTestEnv(t)
	d := NewDeck(st, cards, newShuffler(rand.New(rand.NewSource(1))))
	ctx := context.Background()

	g := mustCreateGame(t, st, "ROOM01", 3)
	for _, name := range []string{"a", "b", "c"} {
		mustAddPlayer(t, st, "ROOM01", name)
	}

	if err := d.DealInitialCards(ctx, g.ID, 2); err != nil {
		t.Fatalf("DealInitialCards: %v", err)
	}

	players, err := st.PlayersByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("PlayersByGame: %v", err)
	}
	seen := map[string]string{}
	for _, p := range players {
		if len(p.Hand) != 2 {
			t.Fatalf("player %s hand size = %d, want 2", p.Name, len(p.Hand))
		}
		for _, id := range p.Hand {
			if holder, dup := seen[id]; dup {
				t.Fatalf("card %s dealt to both %s and %s", id, holder, p.Name)
			}
			seen[id] = p.Name
		}
	}
	if len(seen) != 6 {
		t.Fatalf("dealt %d distinct cards, want 6", len(seen))
	}
}

func TestDealInitialCardsShortDeck(t *testing.T) {
	st, cards, _ := newTestEnv(t)
	d := NewDeck(st, cards, newShuffler(rand.New(rand.NewSource(2))))
	ctx := context.Background()

	// catalog has 7 cards; 2 players x 4 requested = 8
	g := mustCreateGame(t, st, "ROOM02", 2)
	mustAddPlayer(t, st, "ROOM02", "a")
	mustAddPlayer(t, st, "ROOM02", "b")

	if err := d.DealInitialCards(ctx, g.ID, 4); err != nil {
		t.Fatalf("DealInitialCards: %v", err)
	}

	players, err := st.PlayersByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("PlayersByGame: %v", err)
	}
	if len(players[0].Hand) != 4 {
		t.Fatalf("first player hand = %d, want 4", len(players[0].Hand))
	}
	if len(players[1].Hand) != 3 {
		t.Fatalf("second player hand = %d, want the 3 leftover cards", len(players[1].Hand))
	}
}

func TestDrawExcludesUsedCardsAndExhausts(t *testing.T) {
	st, cards, _ := newTestEnv(t)
	d := NewDeck(st, cards, newShuffler(rand.New(rand.NewSource(3))))
	ctx := context.Background()

	g := mustCreateGame(t, st, "ROOM03", 2)
	p := mustAddPlayer(t, st, "ROOM03", "solo")

	// hand and timeline together cover all but one card
	if err := st.UpdateHand(ctx, p.ID, []string{"pyramid", "rome", "hastings"}); err != nil {
		t.Fatalf("UpdateHand: %v", err)
	}
	mustPlace(t, st, g.ID, "press", 0)
	mustPlace(t, st, g.ID, "press-twin", 1)
	mustPlace(t, st, g.ID, "moon", 2)

	card, err := d.Draw(ctx, p.ID)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if card == nil || card.ID != "web" {
		t.Fatalf("Draw = %+v, want the only remaining card (web)", card)
	}

	card, err = d.Draw(ctx, p.ID)
	if err != nil {
		t.Fatalf("Draw on empty pool: %v", err)
	}
	if card != nil {
		t.Fatalf("Draw on empty pool = %+v, want nil", card)
	}
}

func TestDrawExcludesOtherHands(t *testing.T) {
	st, cards, _ := newTestEnv(t)
	d := NewDeck(st, cards, newShuffler(rand.New(rand.NewSource(4))))
	ctx := context.Background()

	mustCreateGame(t, st, "ROOM04", 2)
	p1 := mustAddPlayer(t, st, "ROOM04", "a")
	p2 := mustAddPlayer(t, st, "ROOM04", "b")

	if err := st.UpdateHand(ctx, p1.ID, []string{"pyramid", "rome", "hastings"}); err != nil {
		t.Fatalf("UpdateHand: %v", err)
	}
	if err := st.UpdateHand(ctx, p2.ID, []string{"press", "press-twin", "moon"}); err != nil {
		t.Fatalf("UpdateHand: %v", err)
	}

	card, err := d.Draw(ctx, p1.ID)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if card == nil || card.ID != "web" {
		t.Fatalf("Draw = %+v, want web (everything else is held)", card)
	}
}

func TestRemoveFromHandIdempotent(t *testing.T) {
	st, cards, _ := newTestEnv(t)
	d := NewDeck(st, cards, newShuffler(rand.New(rand.NewSource(5))))
	ctx := context.Background()

	mustCreateGame(t, st, "ROOM05", 2)
	p := mustAddPlayer(t, st, "ROOM05", "a")
	if err := st.UpdateHand(ctx, p.ID, []string{"pyramid", "rome"}); err != nil {
		t.Fatalf("UpdateHand: %v", err)
	}

	if err := d.RemoveFromHand(ctx, p.ID, "pyramid"); err != nil {
		t.Fatalf("RemoveFromHand: %v", err)
	}
	if err := d.RemoveFromHand(ctx, p.ID, "pyramid"); err != nil {
		t.Fatalf("RemoveFromHand twice: %v", err)
	}

	got, err := st.PlayerByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("PlayerByID: %v", err)
	}
	if len(got.Hand) != 1 || got.Hand[0] != "rome" {
		t.Fatalf("hand = %v, want [rome]", got.Hand)
	}

	if d.HasWon(ctx, p.ID) {
		t.Fatal("HasWon with one card left = true, want false")
	}
	if err := d.RemoveFromHand(ctx, p.ID, "rome"); err != nil {
		t.Fatalf("RemoveFromHand: %v", err)
	}
	if !d.HasWon(ctx, p.ID) {
		t.Fatal("HasWon with empty hand = false, want true")
	}
}
