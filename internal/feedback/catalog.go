package feedback

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog holds the player-facing message templates: placement feedback,
// hints, and end-of-game lines. Templates come from the embedded defaults,
// optionally overridden from a directory of YAML files. Every public helper
// falls back to a plain built-in string rather than erroring, because these
// messages sit on display paths that must never fail a request.
type Catalog struct {
	mu   sync.RWMutex
	data map[string]string // flattened dot-keys → template text
}

// New loads the embedded default messages and applies overrides from dir if
// it is non-empty.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]string)}
	raw, err := fs.ReadFile(defaultFiles, "messages.en.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	if err := c.applyYAML(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message override dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := c.applyYAML(b); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) applyYAML(b []byte) error {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return err
	}
	flat := make(map[string]string)
	if err := flatten(m, "", flat); err != nil {
		return err
	}
	c.mu.Lock()
	for k, v := range flat {
		c.data[k] = v
	}
	c.mu.Unlock()
	return nil
}

func flatten(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(vv, key, out); err != nil {
				return err
			}
		}
		return nil
	case string:
		if prefix == "" {
			return fmt.Errorf("string value without key prefix")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

// Render executes the template for key. Missing keys or template errors
// return an error; callers decide the fallback.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	tpl, ok := c.data[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok || strings.TrimSpace(tpl) == "" {
		return "", fmt.Errorf("message not found: %s", key)
	}
	t, err := template.New(key).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *Catalog) render(key string, data any, fallback string) string {
	s, err := c.Render(key, data)
	if err != nil {
		return fallback
	}
	return s
}

// When formats a chronological value for display; negative values read as
// BCE years.
func When(value int) string {
	if value < 0 {
		return fmt.Sprintf("%d BCE", -value)
	}
	return fmt.Sprintf("%d", value)
}

func (c *Catalog) CorrectPlacement(name string, value, position int) string {
	return c.render("placement.correct",
		map[string]any{"Name": name, "When": When(value), "Position": position},
		fmt.Sprintf("Correct! %s placed at position %d.", name, position))
}

func (c *Catalog) WrongPlacement(name string, value, correct, actual int) string {
	return c.render("placement.wrong",
		map[string]any{"Name": name, "When": When(value), "Correct": correct, "Actual": actual},
		fmt.Sprintf("Wrong position! %s should be at position %d.", name, correct))
}

func (c *Catalog) Hint(name string, value int) string {
	return c.render("hint.known",
		map[string]any{"Name": name, "When": When(value)},
		c.HintFallback())
}

func (c *Catalog) HintFallback() string {
	return c.render("hint.fallback", nil, "No hint available for this card.")
}

func (c *Catalog) GameWon(winner string) string {
	return c.render("game.won",
		map[string]any{"Winner": winner},
		fmt.Sprintf("%s wins the game!", winner))
}
