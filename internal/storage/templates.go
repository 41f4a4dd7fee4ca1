package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/park285/cards-of-power/internal/domain"
)

// SyncCardTemplates upserts the catalog so owned_cards can reference it.
// Templates removed from the catalog are kept; existing ownership rows may
// still point at them.
func SyncCardTemplates(ctx context.Context, db *sql.DB, templates []domain.CardTemplate) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO card_templates (
			id, name, type, attack, defense, level, rarity,
			attributes, image, description, effect, value
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			attack = EXCLUDED.attack,
			defense = EXCLUDED.defense,
			level = EXCLUDED.level,
			rarity = EXCLUDED.rarity,
			attributes = EXCLUDED.attributes,
			image = EXCLUDED.image,
			description = EXCLUDED.description,
			effect = EXCLUDED.effect,
			value = EXCLUDED.value`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range templates {
		attrs := t.Attributes
		if attrs == nil {
			attrs = []string{}
		}
		raw, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshal attributes of %s: %w", t.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Name, string(t.Type), t.Attack, t.Defense, t.Level, t.Rarity,
			raw, t.Image, t.Description, t.Effect, t.Value); err != nil {
			return fmt.Errorf("upsert template %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}
