package effects

import "github.com/park285/cards-of-power/internal/domain"

// DefaultTables returns fresh copies of the built-in monster, spell and trap tables.
func DefaultTables() map[domain.CardType]Table {
	return map[domain.CardType]Table{
		domain.CardMonster: {
			"Ancient Dragon":   {Kind: KindAttackBoost, Amount: 500},
			"Celestial Healer": {Kind: KindHeal, Amount: 1000},
			"Shadow Assassin":  {Kind: KindDamage, Amount: 800},
		},
		domain.CardSpell: {
			"Lightning Bolt": {Kind: KindDamage, Amount: 3000},
			"Healing Light":  {Kind: KindHeal, Amount: 2000},
			"Power Surge":    {Kind: KindAttackBoost, Amount: 1000},
			"Arcane Insight": {Kind: KindDraw, Amount: 2},
		},
		domain.CardTrap: {
			"Spike Pit":       {Kind: KindDamage, Amount: 1000},
			"Reflect Barrier": {Kind: KindDamage, Amount: 1500},
			"Iron Wall":       {Kind: KindHeal, Amount: 500},
		},
	}
}
