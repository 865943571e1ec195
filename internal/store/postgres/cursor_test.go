package postgres

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollyscale/core/internal/store"
)

func TestResolveOffsetPrefersCursorOverOffset(t *testing.T) {
	cursor := encodeCursor(42)
	off, err := resolveOffset(store.Paging{Offset: 7, Cursor: cursor})
	require.NoError(t, err)
	assert.Equal(t, 42, off)
}

func TestResolveOffsetFallsBackToOffset(t *testing.T) {
	off, err := resolveOffset(store.Paging{Offset: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, off)
}

func TestResolveOffsetRejectsMalformedCursor(t *testing.T) {
	_, err := resolveOffset(store.Paging{Cursor: "not-valid-base64!!"})
	require.Error(t, err)
}

func TestResolveOffsetRejectsNegativeDecodedCursor(t *testing.T) {
	negative := base64.RawURLEncoding.EncodeToString([]byte("-1"))
	_, err := resolveOffset(store.Paging{Cursor: negative})
	require.Error(t, err)
}

func TestResolveLimitDefaultsAndClamps(t *testing.T) {
	assert.Equal(t, 100, resolveLimit(store.Paging{}))
	assert.Equal(t, 50, resolveLimit(store.Paging{Limit: 50}))
	assert.Equal(t, 1000, resolveLimit(store.Paging{Limit: 5000}))
}

func TestCursorRoundTrips(t *testing.T) {
	c := encodeCursor(123)
	off, err := resolveOffset(store.Paging{Cursor: c})
	require.NoError(t, err)
	assert.Equal(t, 123, off)
}
