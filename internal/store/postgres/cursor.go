package postgres

import (
	"encoding/base64"
	"strconv"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
)

// resolveOffset turns a Paging into a concrete SQL offset. Cursor takes
// precedence over Offset when both are set (store.Paging doc comment); the
// cursor is an opaque base64-encoded offset so callers can't assume it's
// stable across schema changes.
func resolveOffset(p store.Paging) (int, error) {
	if p.Cursor == "" {
		return p.Offset, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(p.Cursor)
	if err != nil {
		return 0, ollyerr.Invalid("malformed cursor", err)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0, ollyerr.Invalidf("malformed cursor")
	}
	return n, nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func resolveLimit(p store.Paging) int {
	if p.Limit <= 0 {
		return 100
	}
	if p.Limit > 1000 {
		return 1000
	}
	return p.Limit
}
