package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ollyscale/core/internal/attrval"
)

func TestOfIsOrderIndependent(t *testing.T) {
	m1 := attrval.Canonicalize(attrval.Map{
		"service.name":      attrval.String("checkout"),
		"service.namespace": attrval.String("payments"),
	})
	m2 := attrval.Canonicalize(attrval.Map{
		"service.namespace": attrval.String("payments"),
		"service.name":      attrval.String("checkout"),
	})

	assert.Equal(t, Of(m1), Of(m2))
}

func TestOfDiffersOnContent(t *testing.T) {
	m1 := attrval.Canonicalize(attrval.Map{"service.name": attrval.String("checkout")})
	m2 := attrval.Canonicalize(attrval.Map{"service.name": attrval.String("cart")})

	assert.NotEqual(t, Of(m1), Of(m2))
}

func TestEqualDetectsCollisionCandidates(t *testing.T) {
	m1 := attrval.Map{"a": attrval.String("1")}
	m2 := attrval.Map{"a": attrval.String("1")}
	m3 := attrval.Map{"a": attrval.String("2")}

	assert.True(t, Equal(m1, m2))
	assert.False(t, Equal(m1, m3))
}

func TestBytesRoundTrip(t *testing.T) {
	id := ID{Hi: 0x1122334455667788, Lo: 0x99aabbccddeeff00}
	b := id.Bytes()
	assert.Len(t, b, 16)
	assert.False(t, id.IsZero())
	assert.True(t, ID{}.IsZero())
}
