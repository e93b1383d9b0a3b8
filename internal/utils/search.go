package utils

import (
	"strings"

	"tilsynsapp/internal/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// fold normalises to NFC and case-folds so "Århus", "århus" and a decomposed
// "å" compare equal. Casers carry state, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// ContainsFold reports whether sub is within s, ignoring case.
func ContainsFold(s, sub string) bool {
	return strings.Contains(fold(s), fold(sub))
}

// MatchesSearch reports whether a row's address or company name contains
// query. Missing fields never match, so an empty query still hides rows that
// have neither.
func MatchesSearch(row models.VejmanKassenRow, query string) bool {
	if row.Adresse != nil && ContainsFold(*row.Adresse, query) {
		return true
	}
	return row.FirmaNavn != nil && ContainsFold(*row.FirmaNavn, query)
}

// FilterRows returns the rows matching query, preserving order.
func FilterRows(rows []models.VejmanKassenRow, query string) []models.VejmanKassenRow {
	out := make([]models.VejmanKassenRow, 0, len(rows))
	for _, r := range rows {
		if MatchesSearch(r, query) {
			out = append(out, r)
		}
	}
	return out
}
