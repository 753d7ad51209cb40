package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"chronocards/internal/domain"
)

//go:embed cards.yaml
var defaultFiles embed.FS

// Catalog is the immutable event-card lookup. Cards are loaded once from the
// embedded seed (optionally replaced by an override file) and never change
// for the lifetime of the process.
type Catalog struct {
	cards []domain.Card
	byID  map[string]int
}

// New loads the embedded seed. If overridePath names a YAML file, that file
// replaces the embedded seed entirely.
func New(overridePath string) (*Catalog, error) {
	var raw []byte
	var err error
	if strings.TrimSpace(overridePath) != "" {
		raw, err = os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read card seed %s: %w", overridePath, err)
		}
	} else {
		raw, err = fs.ReadFile(defaultFiles, "cards.yaml")
		if err != nil {
			return nil, fmt.Errorf("read embedded card seed: %w", err)
		}
	}
	return parse(raw)
}

func parse(raw []byte) (*Catalog, error) {
	var doc struct {
		Cards []domain.Card `yaml:"cards"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse card seed: %w", err)
	}
	if len(doc.Cards) == 0 {
		return nil, fmt.Errorf("card seed is empty")
	}
	c := &Catalog{
		cards: doc.Cards,
		byID:  make(map[string]int, len(doc.Cards)),
	}
	for i, card := range doc.Cards {
		if strings.TrimSpace(card.ID) == "" || strings.TrimSpace(card.Name) == "" {
			return nil, fmt.Errorf("card %d: id and name are required", i)
		}
		if _, dup := c.byID[card.ID]; dup {
			return nil, fmt.Errorf("duplicate card id %q", card.ID)
		}
		c.byID[card.ID] = i
	}
	return c, nil
}

// Size returns the number of cards in the catalog.
func (c *Catalog) Size() int { return len(c.cards) }

// ByID returns the card with the given id, or false when unknown.
func (c *Catalog) ByID(id string) (*domain.Card, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	card := c.cards[i]
	return &card, true
}

// ByIDs resolves ids in order, silently dropping any that do not exist.
func (c *Catalog) ByIDs(ids []string) []domain.Card {
	out := make([]domain.Card, 0, len(ids))
	for _, id := range ids {
		if card, ok := c.ByID(id); ok {
			out = append(out, *card)
		}
	}
	return out
}

// ByCategory returns all cards tagged with the given category.
func (c *Catalog) ByCategory(category string) []domain.Card {
	var out []domain.Card
	for _, card := range c.cards {
		if strings.EqualFold(card.Category, category) {
			out = append(out, card)
		}
	}
	return out
}

// All returns a copy of every card in seed order.
func (c *Catalog) All() []domain.Card {
	return append([]domain.Card(nil), c.cards...)
}

// Pick returns up to count cards chosen uniformly without replacement,
// optionally filtered by difficulty. Asking for more cards than exist
// returns everything that qualifies, not an error.
func (c *Catalog) Pick(rng *rand.Rand, count int, difficulty domain.Difficulty) []domain.Card {
	if count <= 0 {
		return nil
	}
	pool := c.cards
	if difficulty != "" {
		pool = nil
		for _, card := range c.cards {
			if card.Difficulty == difficulty {
				pool = append(pool, card)
			}
		}
	}
	picked := append([]domain.Card(nil), pool...)
	rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	if len(picked) > count {
		picked = picked[:count]
	}
	return picked
}
