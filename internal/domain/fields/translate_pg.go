package fields

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// translatorPG reads label overlays from the field_translation table. Lookups
// are best-effort: any miss or query error falls back to the stored text.
type translatorPG struct{ pool *pgxpool.Pool }

func NewTranslatorPG(pool *pgxpool.Pool) Translator {
	return &translatorPG{pool: pool}
}

func (t *translatorPG) CategoryName(ctx context.Context, lang string, categoryID uuid.UUID) (string, bool) {
	return t.lookup(ctx, lang, "category_id", categoryID)
}

func (t *translatorPG) FieldLabel(ctx context.Context, lang string, definitionID uuid.UUID) (string, bool) {
	return t.lookup(ctx, lang, "definition_id", definitionID)
}

func (t *translatorPG) lookup(ctx context.Context, lang, col string, id uuid.UUID) (string, bool) {
	var text string
	err := conn(ctx, t.pool).QueryRow(ctx,
		`SELECT text FROM field_translation WHERE lang = $1 AND `+col+` = $2`,
		lang, id).Scan(&text)
	if err != nil {
		return "", false
	}
	return text, true
}
