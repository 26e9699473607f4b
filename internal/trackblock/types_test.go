package trackblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_ResolveBlock(t *testing.T) {
	alt := 201
	blocks := []TrackBlock{
		{
			BlockNumber: 300,
			Platforms: []Platform{
				{BlockNumber: 303},
				{BlockNumber: 304, IsDefault: true},
			},
		},
		{BlockNumber: 200, AltBlock: &alt},
	}
	m := NewMap(blocks)

	b, ok := m.ResolveBlock(300)
	require.True(t, ok)
	assert.Equal(t, 300, b.BlockNumber)

	b, ok = m.ResolveBlock(303)
	require.True(t, ok)
	assert.Equal(t, 300, b.BlockNumber, "platform blockNumber resolves to its owning block")

	b, ok = m.ResolveBlock(201)
	require.True(t, ok)
	assert.Equal(t, 200, b.BlockNumber, "altBlock resolves to its owning block")

	_, ok = m.ResolveBlock(9999)
	assert.False(t, ok)
}
