package services

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// cursorPalette is the fixed set of display colors handed out to
// participants, in assignment order.
var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#fabebe", "#008080",
}

// pickColor returns the first palette color not in use, falling back to a
// pseudo-random palette entry once every color is taken.
func pickColor(used []string) string {
	taken := make(map[string]bool, len(used))
	for _, c := range used {
		taken[c] = true
	}
	for _, c := range cursorPalette {
		if !taken[c] {
			return c
		}
	}
	return cursorPalette[rand.Intn(len(cursorPalette))]
}

func usedColorsTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT color FROM session_participants
		WHERE session_id = $1 AND status IN ('active', 'away')
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var colors []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	return colors, nil
}
