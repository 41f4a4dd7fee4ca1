package domain

import "time"

// CardType is one of the three card families.
type CardType string

const (
	CardMonster CardType = "monster"
	CardSpell   CardType = "spell"
	CardTrap    CardType = "trap"
)

func (t CardType) Valid() bool {
	switch t {
	case CardMonster, CardSpell, CardTrap:
		return true
	}
	return false
}

// Position is the battle stance of a monster on the field.
type Position string

const (
	PositionAttack  Position = "attack"
	PositionDefense Position = "defense"
)

func (p Position) Valid() bool { return p == PositionAttack || p == PositionDefense }

// CardTemplate is read-only catalog data.
type CardTemplate struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Type        CardType `json:"type" yaml:"type"`
	Attack      int      `json:"attack" yaml:"attack"`
	Defense     int      `json:"defense" yaml:"defense"`
	Level       int      `json:"level,omitempty" yaml:"level"`
	Rarity      string   `json:"rarity,omitempty" yaml:"rarity"`
	Attributes  []string `json:"attributes,omitempty" yaml:"attributes"`
	Image       string   `json:"image,omitempty" yaml:"image"`
	Description string   `json:"description,omitempty" yaml:"description"`
	// Effect marks templates that must have an effect dispatcher entry.
	Effect bool  `json:"effect,omitempty" yaml:"effect"`
	Value  int64 `json:"value,omitempty" yaml:"value"`
}

// CardRef is a card instance as it appears in a hand, field slot or graveyard.
type CardRef struct {
	ID          string   `json:"id"`
	TemplateID  string   `json:"templateId,omitempty"`
	Name        string   `json:"name"`
	Type        CardType `json:"type"`
	Image       string   `json:"image,omitempty"`
	Position    Position `json:"position,omitempty"`
	AttackBoost int      `json:"attackBoost,omitempty"`
}

// OwnedCard is one row of the ownership ledger.
type OwnedCard struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	TemplateID string    `json:"templateId"`
	Quantity   int       `json:"quantity"`
	Value      int64     `json:"value"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// ListingStatus is the lifecycle of a marketplace listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

// Listing links an owned card to an asking price.
type Listing struct {
	ID          string        `json:"id"`
	OwnedCardID string        `json:"ownedCardId"`
	SellerID    string        `json:"sellerId"`
	Price       int64         `json:"price"`
	Status      ListingStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
