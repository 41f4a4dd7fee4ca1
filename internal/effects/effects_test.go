package effects

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/cards-of-power/internal/catalog"
	"github.com/park285/cards-of-power/internal/domain"
)

func TestLightningBolt(t *testing.T) {
	d := NewDispatcher(nil)
	res, err := d.Dispatch(domain.CardSpell, "Lightning Bolt", Context{Player: "Ann", Opponent: "Bob"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Success || res.Damage != 3000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.LogLines) != 1 || !strings.Contains(res.LogLines[0], "Bob takes 3000 damage") {
		t.Fatalf("log lines = %v", res.LogLines)
	}
}

func TestUnknownNameNotImplemented(t *testing.T) {
	d := NewDispatcher(nil)
	_, err := d.Dispatch(domain.CardSpell, "Meteor Storm", Context{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if !strings.Contains(err.Error(), "not yet been implemented") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestTablesAreTypeScoped(t *testing.T) {
	d := NewDispatcher(nil)
	// Lightning Bolt is a spell; looking it up as a trap must fail.
	if _, err := d.Dispatch(domain.CardTrap, "Lightning Bolt", Context{}); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected not implemented for wrong type, got %v", err)
	}
}

func TestDispatchKinds(t *testing.T) {
	d := NewDispatcher(nil)
	cases := []struct {
		typ  domain.CardType
		name string
		want Result
	}{
		{domain.CardMonster, "Celestial Healer", Result{Healing: 1000}},
		{domain.CardMonster, "Ancient Dragon", Result{AttackBoost: 500}},
		{domain.CardSpell, "Arcane Insight", Result{Draw: 2}},
		{domain.CardTrap, "Reflect Barrier", Result{Damage: 1500}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := d.Dispatch(tc.typ, tc.name, Context{})
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if res.Damage != tc.want.Damage || res.Healing != tc.want.Healing || res.AttackBoost != tc.want.AttackBoost || res.Draw != tc.want.Draw {
				t.Fatalf("got %+v, want %+v", res, tc.want)
			}
		})
	}
}

func TestValidateAgainstCatalog(t *testing.T) {
	cat, err := catalog.New("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := NewDispatcher(nil).Validate(cat.All()); err != nil {
		t.Fatalf("built-in tables should match the catalog: %v", err)
	}
}

func TestValidateReportsGaps(t *testing.T) {
	templates := []domain.CardTemplate{
		{ID: "a", Name: "Needs Effect", Type: domain.CardSpell, Effect: true},
		{ID: "b", Name: "Wrong Table", Type: domain.CardTrap},
	}
	tables := map[domain.CardType]Table{
		domain.CardSpell: {
			"Wrong Table": {Kind: KindDamage, Amount: 10},
			"Ghost":       {Kind: KindHeal, Amount: 10},
		},
	}
	err := NewDispatcherWithTables(nil, tables).Validate(templates)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"Needs Effect", "Ghost", "Wrong Table"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}
