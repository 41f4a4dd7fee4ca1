// Package catalog holds the static card templates.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/cards-of-power/internal/domain"
)

//go:embed cards.yaml
var defaultFiles embed.FS

type file struct {
	Cards       []domain.CardTemplate `yaml:"cards"`
	StarterDeck []string              `yaml:"starter_deck"`
}

// Catalog is immutable after construction and safe for concurrent reads.
type Catalog struct {
	byID    map[string]domain.CardTemplate
	byName  map[string]domain.CardTemplate
	ordered []domain.CardTemplate
	starter []string
}

// New loads the embedded templates, or the YAML file at path when one is given.
func New(path string) (*Catalog, error) {
	var (
		raw []byte
		err error
	)
	if strings.TrimSpace(path) != "" {
		raw, err = os.ReadFile(path)
	} else {
		raw, err = fs.ReadFile(defaultFiles, "cards.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("read card catalog: %w", err)
	}
	return Parse(raw)
}

// Parse builds a catalog from YAML and rejects duplicate ids or names.
func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse card catalog: %w", err)
	}
	c := &Catalog{
		byID:   make(map[string]domain.CardTemplate, len(f.Cards)),
		byName: make(map[string]domain.CardTemplate, len(f.Cards)),
	}
	for _, t := range f.Cards {
		t.ID = strings.TrimSpace(t.ID)
		t.Name = strings.TrimSpace(t.Name)
		if t.ID == "" || t.Name == "" {
			return nil, fmt.Errorf("card template missing id or name: %+v", t)
		}
		if !t.Type.Valid() {
			return nil, fmt.Errorf("card %s: invalid type %q", t.ID, t.Type)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate card id %q", t.ID)
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate card name %q", t.Name)
		}
		c.byID[t.ID] = t
		c.byName[t.Name] = t
		c.ordered = append(c.ordered, t)
	}
	for _, id := range f.StarterDeck {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("starter deck references unknown card %q", id)
		}
		c.starter = append(c.starter, id)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c, nil
}

func (c *Catalog) Get(id string) (domain.CardTemplate, bool) {
	t, ok := c.byID[strings.TrimSpace(id)]
	return t, ok
}

func (c *Catalog) ByName(name string) (domain.CardTemplate, bool) {
	t, ok := c.byName[strings.TrimSpace(name)]
	return t, ok
}

// All returns templates ordered by id.
func (c *Catalog) All() []domain.CardTemplate {
	return append([]domain.CardTemplate(nil), c.ordered...)
}

// StarterDeck returns template ids, duplicates included.
func (c *Catalog) StarterDeck() []string {
	return append([]string(nil), c.starter...)
}
