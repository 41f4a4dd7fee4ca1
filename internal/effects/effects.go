// Package effects resolves the canned effects of a fixed set of named cards.
//
// Each card type has its own closed table. There is no effect stack and no
// targeting: the battle manager applies the numeric fields of a Result to the
// caller or the opponent.
package effects

import (
	"fmt"
	"sort"
	"strings"

	"github.com/park285/cards-of-power/internal/apperr"
	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/msgcat"
)

// Kind tags the variant of a Descriptor.
type Kind string

const (
	KindDamage      Kind = "damage"
	KindHeal        Kind = "heal"
	KindAttackBoost Kind = "attack_boost"
	KindDraw        Kind = "draw"
)

// Descriptor is one table entry.
type Descriptor struct {
	Kind   Kind
	Amount int
}

// Result is what a dispatched effect reports back to the battle.
type Result struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	LogLines    []string `json:"logLines"`
	Damage      int      `json:"damage,omitempty"`
	Healing     int      `json:"healing,omitempty"`
	AttackBoost int      `json:"attackBoost,omitempty"`
	Draw        int      `json:"draw,omitempty"`
}

// Context names the parties for the rendered texts.
type Context struct {
	Player   string
	Opponent string
}

var ErrNotImplemented = apperr.New(apperr.NotImplemented, "effect not implemented")

// NotImplementedError is returned for names outside the table of their type.
type NotImplementedError struct {
	Type domain.CardType
	Name string
	msg  string
}

func (e *NotImplementedError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("The effect of %s card %q has not yet been implemented", e.Type, e.Name)
}

func (e *NotImplementedError) Is(target error) bool { return target == ErrNotImplemented }
func (e *NotImplementedError) Kind() apperr.Kind { return apperr.NotImplemented }

type Table map[string]Descriptor

// Dispatcher is read-only after construction.
type Dispatcher struct {
	tables map[domain.CardType]Table
	msgs   *msgcat.Catalog
}

// NewDispatcher uses the built-in tables. msgs may be nil, in which case the
// embedded message catalog is used.
func NewDispatcher(msgs *msgcat.Catalog) *Dispatcher {
	return NewDispatcherWithTables(msgs, DefaultTables())
}

func NewDispatcherWithTables(msgs *msgcat.Catalog, tables map[domain.CardType]Table) *Dispatcher {
	if msgs == nil {
		msgs = msgcat.MustDefault()
	}
	return &Dispatcher{tables: tables, msgs: msgs}
}

// Lookup returns the descriptor for an exact card name.
func (d *Dispatcher) Lookup(t domain.CardType, name string) (Descriptor, bool) {
	desc, ok := d.tables[t][name]
	return desc, ok
}

func (d *Dispatcher) Has(t domain.CardType, name string) bool {
	_, ok := d.Lookup(t, name)
	return ok
}

// Dispatch resolves the effect of the named card. Unknown names are an error,
// never a silent no-op.
func (d *Dispatcher) Dispatch(t domain.CardType, name string, ctx Context) (*Result, error) {
	desc, ok := d.Lookup(t, name)
	if !ok {
		e := &NotImplementedError{Type: t, Name: name}
		if s, err := d.msgs.Render("effect.not_implemented", map[string]any{"Type": string(t), "Card": name}); err == nil {
			e.msg = s
		}
		return nil, e
	}

	data := map[string]any{
		"Card":     name,
		"Amount":   desc.Amount,
		"Player":   orDefault(ctx.Player, "player"),
		"Opponent": orDefault(ctx.Opponent, "opponent"),
	}
	prefix := "effect." + string(desc.Kind)
	msg, err := d.msgs.Render(prefix+".message", data)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", prefix, err)
	}
	line, err := d.msgs.Render(prefix+".log", data)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", prefix, err)
	}

	res := &Result{Success: true, Message: msg, LogLines: []string{line}}
	switch desc.Kind {
	case KindDamage:
		res.Damage = desc.Amount
	case KindHeal:
		res.Healing = desc.Amount
	case KindAttackBoost:
		res.AttackBoost = desc.Amount
	case KindDraw:
		res.Draw = desc.Amount
	}
	return res, nil
}

// Validate cross-checks the tables against the catalog: every template flagged
// as having an effect needs an entry, and every entry must name a template of
// the same type.
func (d *Dispatcher) Validate(templates []domain.CardTemplate) error {
	byName := make(map[string]domain.CardTemplate, len(templates))
	var problems []string
	for _, t := range templates {
		byName[t.Name] = t
		if t.Effect && !d.Has(t.Type, t.Name) {
			problems = append(problems, fmt.Sprintf("%s %q has no effect entry", t.Type, t.Name))
		}
	}
	for typ, table := range d.tables {
		for name, desc := range table {
			t, ok := byName[name]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("effect entry %q matches no card", name))
			case t.Type != typ:
				problems = append(problems, fmt.Sprintf("effect entry %q is in the %s table but the card is a %s", name, typ, t.Type))
			case desc.Amount <= 0:
				problems = append(problems, fmt.Sprintf("effect entry %q has non-positive amount", name))
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("effect tables invalid: %s", strings.Join(problems, "; "))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
