package game

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chronocards/internal/domain"
	"chronocards/internal/store"
)

func newTestManager(t *testing.T, cardsPerPlayer int) (*Manager, *store.MemStore) {
	t.Helper()
	st, cards, msgs := newTestEnv(t)
	return NewManager(st, cards, msgs, cardsPerPlayer), st
}

type recordedResults struct {
	mu      sync.Mutex
	results []GameResult
}

func (r *recordedResults) SaveResult(ctx context.Context, g GameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, g)
	return nil
}

func TestCreateGameAssignsRoomCode(t *testing.T) {
	mgr, st := newTestManager(t, 2)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 4)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if len(g.RoomCode) != roomCodeLength {
		t.Fatalf("room code %q length = %d, want %d", g.RoomCode, len(g.RoomCode), roomCodeLength)
	}
	for _, r := range g.RoomCode {
		if r == '0' || r == '1' || r == 'I' || r == 'L' || r == 'O' {
			t.Fatalf("room code %q contains an ambiguous character", g.RoomCode)
		}
	}

	stored, err := st.GameByRoomCode(ctx, g.RoomCode)
	if err != nil || stored.ID != g.ID {
		t.Fatalf("room code lookup = %v, %v", stored, err)
	}
}

func TestJoinRules(t *testing.T) {
	mgr, st := newTestManager(t, 1)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 2)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	p1, err := mgr.Join(ctx, g.RoomCode, "alice")
	if err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	// the first joiner holds the turn while the room waits
	if cur := currentPlayerOf(t, st, g.ID); cur.ID != p1.ID {
		t.Fatalf("first joiner not flagged: %s", cur.ID)
	}

	if _, err := mgr.Join(ctx, g.RoomCode, "alice"); !errors.Is(err, store.ErrNameTaken) {
		t.Fatalf("duplicate name err = %v, want ErrNameTaken", err)
	}
	if _, err := mgr.Join(ctx, g.RoomCode, "bob"); err != nil {
		t.Fatalf("Join bob: %v", err)
	}
	if _, err := mgr.Join(ctx, g.RoomCode, "carol"); !errors.Is(err, store.ErrGameFull) {
		t.Fatalf("overfill err = %v, want ErrGameFull", err)
	}
	if _, err := mgr.Join(ctx, "ZZZZZZ", "dave"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown room err = %v, want ErrNotFound", err)
	}

	if _, err := mgr.Start(ctx, g.RoomCode); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := mgr.Join(ctx, g.RoomCode, "late"); !errors.Is(err, ErrGameStarted) {
		t.Fatalf("late join err = %v, want ErrGameStarted", err)
	}
}

func TestStartDealsAndBeginsPlay(t *testing.T) {
	mgr, st := newTestManager(t, 2)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 2)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := mgr.Join(ctx, g.RoomCode, "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := mgr.Join(ctx, g.RoomCode, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	ts, err := mgr.Start(ctx, g.RoomCode)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ts.TurnNumber != 1 || len(ts.TurnOrder) != 2 {
		t.Fatalf("turn state = %+v", ts)
	}

	stored, err := st.GameByRoomCode(ctx, g.RoomCode)
	if err != nil {
		t.Fatalf("GameByRoomCode: %v", err)
	}
	if stored.Phase != domain.PhasePlaying {
		t.Fatalf("phase = %s, want %s", stored.Phase, domain.PhasePlaying)
	}
	players, err := st.PlayersByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("PlayersByGame: %v", err)
	}
	for _, p := range players {
		if len(p.Hand) != 2 {
			t.Fatalf("player %s hand = %d cards, want 2", p.Name, len(p.Hand))
		}
	}

	if _, err := mgr.Start(ctx, g.RoomCode); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestAttemptPlacementGuards(t *testing.T) {
	mgr, st := newTestManager(t, 1)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 2)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	p1, err := mgr.Join(ctx, g.RoomCode, "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	p2, err := mgr.Join(ctx, g.RoomCode, "bob")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	// not started yet
	if _, err := mgr.AttemptPlacement(ctx, g.RoomCode, p1.ID, "pyramid", 0); !errors.Is(err, ErrGameNotActive) {
		t.Fatalf("placement before start err = %v, want ErrGameNotActive", err)
	}

	if _, err := mgr.Start(ctx, g.RoomCode); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cur := currentPlayerOf(t, st, g.ID)
	other := p1
	if other.ID == cur.ID {
		other = p2
	}
	otherStored, err := st.PlayerByID(ctx, other.ID)
	if err != nil {
		t.Fatalf("PlayerByID: %v", err)
	}

	if _, err := mgr.AttemptPlacement(ctx, g.RoomCode, otherStored.ID, otherStored.Hand[0], 0); !errors.Is(err, ErrNotPlayersTurn) {
		t.Fatalf("off-turn err = %v, want ErrNotPlayersTurn", err)
	}
	if _, err := mgr.AttemptPlacement(ctx, g.RoomCode, cur.ID, otherStored.Hand[0], 0); !errors.Is(err, ErrCardNotInHand) {
		t.Fatalf("foreign card err = %v, want ErrCardNotInHand", err)
	}
}

func TestCorrectPlacementsPlayToWin(t *testing.T) {
	mgr, st := newTestManager(t, 2)
	rec := &recordedResults{}
	mgr.AttachRecorder(rec)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 2)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		if _, err := mgr.Join(ctx, g.RoomCode, name); err != nil {
			t.Fatalf("Join %s: %v", name, err)
		}
	}
	if _, err := mgr.Start(ctx, g.RoomCode); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var final *PlacementResult
	for move := 0; move < 10; move++ {
		cur := currentPlayerOf(t, st, g.ID)
		if len(cur.Hand) == 0 {
			t.Fatalf("current player %s has an empty hand mid-game", cur.Name)
		}
		cardID := cur.Hand[0]
		card, ok := mgr.cards.ByID(cardID)
		if !ok {
			t.Fatalf("unknown card in hand: %s", cardID)
		}
		tl, err := st.TimelineByGame(ctx, g.ID)
		if err != nil {
			t.Fatalf("TimelineByGame: %v", err)
		}
		pos := CorrectPosition(card.Value, tl, "")

		res, err := mgr.AttemptPlacement(ctx, g.RoomCode, cur.ID, cardID, pos)
		if err != nil {
			t.Fatalf("AttemptPlacement move %d: %v", move, err)
		}
		if !res.Success {
			t.Fatalf("computed position rejected on move %d: %+v", move, res.Validation)
		}
		if res.GameOver {
			final = res
			break
		}
		if res.TurnState == nil {
			t.Fatalf("move %d missing next turn state", move)
		}
	}
	if final == nil {
		t.Fatal("game never finished")
	}
	if final.Winner == nil || final.Winner.Score != 2 {
		t.Fatalf("winner = %+v, want score 2", final.Winner)
	}
	if final.Message == "" {
		t.Fatal("expected a win message")
	}

	stored, err := st.GameByRoomCode(ctx, g.RoomCode)
	if err != nil {
		t.Fatalf("GameByRoomCode: %v", err)
	}
	if stored.Phase != domain.PhaseFinished {
		t.Fatalf("phase = %s, want %s", stored.Phase, domain.PhaseFinished)
	}

	// three correct placements before the win, all still in order
	tl, err := st.TimelineByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("TimelineByGame: %v", err)
	}
	for i := 1; i < len(tl); i++ {
		if tl[i-1].Card.Value > tl[i].Card.Value {
			t.Fatalf("timeline out of order at %d: %+v", i, tl)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.results) != 1 {
		t.Fatalf("recorded %d results, want 1", len(rec.results))
	}
	if rec.results[0].RoomCode != g.RoomCode || rec.results[0].WinnerName != final.Winner.Name {
		t.Fatalf("recorded result = %+v", rec.results[0])
	}
}

func TestIncorrectPlacementCostsCardAndPassesTurn(t *testing.T) {
	mgr, st := newTestManager(t, 2)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 2)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		if _, err := mgr.Join(ctx, g.RoomCode, name); err != nil {
			t.Fatalf("Join %s: %v", name, err)
		}
	}
	if _, err := mgr.Start(ctx, g.RoomCode); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// the opening move onto an empty timeline is always correct
	first := currentPlayerOf(t, st, g.ID)
	firstCard, _ := mgr.cards.ByID(first.Hand[0])
	res, err := mgr.AttemptPlacement(ctx, g.RoomCode, first.ID, first.Hand[0], 0)
	if err != nil {
		t.Fatalf("AttemptPlacement: %v", err)
	}
	if !res.Success {
		t.Fatalf("opening placement rejected: %+v", res.Validation)
	}

	// second player aims at the provably wrong side of the placed card
	second := currentPlayerOf(t, st, g.ID)
	if second.ID == first.ID {
		t.Fatal("turn did not pass")
	}
	secondCard, _ := mgr.cards.ByID(second.Hand[0])
	wrongPos := 0
	if secondCard.Value < firstCard.Value {
		wrongPos = 1
	}

	res, err = mgr.AttemptPlacement(ctx, g.RoomCode, second.ID, second.Hand[0], wrongPos)
	if err != nil {
		t.Fatalf("AttemptPlacement: %v", err)
	}
	if res.Success {
		t.Fatalf("wrong placement accepted: %+v", res.Validation)
	}
	if res.DrawnCard == nil {
		t.Fatal("expected a replacement card from the pool")
	}
	if res.Validation.CorrectPosition == wrongPos {
		t.Fatalf("correct position = wrong position %d", wrongPos)
	}

	// the card was lost, the replacement arrived, the turn passed back
	reloaded, err := st.PlayerByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("PlayerByID: %v", err)
	}
	if len(reloaded.Hand) != 2 {
		t.Fatalf("hand after miss = %v, want the kept card plus the drawn one", reloaded.Hand)
	}
	hasDrawn, hasLost := false, false
	for _, id := range reloaded.Hand {
		if id == res.DrawnCard.ID {
			hasDrawn = true
		}
		if id == secondCard.ID {
			hasLost = true
		}
	}
	if !hasDrawn {
		t.Fatalf("hand %v missing drawn card %s", reloaded.Hand, res.DrawnCard.ID)
	}
	// a discarded card returns to the pool, so it may come straight back
	// as the replacement; only then is holding it legitimate
	if hasLost && res.DrawnCard.ID != secondCard.ID {
		t.Fatalf("hand %v still holds the lost card %s", reloaded.Hand, secondCard.ID)
	}
	if reloaded.Score != 0 {
		t.Fatalf("score after miss = %d, want 0", reloaded.Score)
	}
	if cur := currentPlayerOf(t, st, g.ID); cur.ID != first.ID {
		t.Fatalf("turn holder = %s, want %s", cur.ID, first.ID)
	}

	// the timeline still only holds the opening card
	tl, err := st.TimelineByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("TimelineByGame: %v", err)
	}
	if len(tl) != 1 || tl[0].CardID != firstCard.ID {
		t.Fatalf("timeline = %+v, want only %s", tl, firstCard.ID)
	}
}

func TestViewSnapshot(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 2)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := mgr.Join(ctx, g.RoomCode, "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	view, err := mgr.View(ctx, g.RoomCode)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if view.Game.RoomCode != g.RoomCode || len(view.Players) != 1 {
		t.Fatalf("view = %+v", view)
	}
	if view.Stats == nil || view.Turn == nil {
		t.Fatal("view missing stats or turn info")
	}
	if len(view.Timeline) != 0 {
		t.Fatalf("fresh game timeline = %d entries, want 0", len(view.Timeline))
	}

	if _, err := mgr.View(ctx, "ZZZZZZ"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown room err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentPlacementsOneWinnerPerTurn(t *testing.T) {
	mgr, st := newTestManager(t, 2)
	ctx := context.Background()

	g, err := mgr.CreateGame(ctx, 2)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		if _, err := mgr.Join(ctx, g.RoomCode, name); err != nil {
			t.Fatalf("Join %s: %v", name, err)
		}
	}
	if _, err := mgr.Start(ctx, g.RoomCode); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cur := currentPlayerOf(t, st, g.ID)
	card, _ := mgr.cards.ByID(cur.Hand[0])
	tl, _ := st.TimelineByGame(ctx, g.ID)
	pos := CorrectPosition(card.Value, tl, "")

	// the same placement raced from several goroutines: exactly one can
	// succeed, the rest lose the turn or the card check
	const racers = 4
	var wg sync.WaitGroup
	succeeded := make(chan *PlacementResult, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := mgr.AttemptPlacement(ctx, g.RoomCode, cur.ID, card.ID, pos)
			if err == nil && res.Success {
				succeeded <- res
				return
			}
			if err != nil && !errors.Is(err, ErrNotPlayersTurn) && !errors.Is(err, ErrCardNotInHand) {
				t.Errorf("unexpected race error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	wins := 0
	for range succeeded {
		wins++
	}
	if wins != 1 {
		t.Fatalf("%d racers succeeded, want exactly 1", wins)
	}

	tl, err = st.TimelineByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("TimelineByGame: %v", err)
	}
	if len(tl) != 1 {
		t.Fatalf("timeline has %d cards after the race, want 1", len(tl))
	}
}
