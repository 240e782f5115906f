package repository

import (
	"encoding/base64"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// EncodeSortCursor turns the last returned index sort key into a cursor
// for the SQL stores.
func EncodeSortCursor(sortKey string) string {
	if sortKey == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(sortKey))
}

// DecodeSortCursor reverses EncodeSortCursor. An empty cursor decodes to "".
func DecodeSortCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) == 0 {
		return "", domain.NewDomainError(domain.ErrValidation, "malformed cursor", "")
	}
	return string(raw), nil
}
