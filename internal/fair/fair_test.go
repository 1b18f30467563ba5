package fair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollInRangeAndVerifiable(t *testing.T) {
	g, err := NewGenerator()
	require.NoError(t, err)
	committed := g.SeedHash()

	type played struct {
		roll  int64
		proof Proof
	}
	var rounds []played
	for i := 0; i < 50; i++ {
		roll, proof := g.Roll("client-seed")
		require.GreaterOrEqual(t, roll, int64(0))
		require.Less(t, roll, int64(RollRange))
		assert.Equal(t, committed, proof.SeedHash)
		assert.Equal(t, int64(i+1), proof.Nonce)
		rounds = append(rounds, played{roll, proof})
	}

	revealed, err := g.Rotate()
	require.NoError(t, err)

	ok, err := SeedMatchesHash(revealed, committed)
	require.NoError(t, err)
	assert.True(t, ok, "revealed seed must match the commitment")

	for _, r := range rounds {
		ok, err := Verify(revealed, r.proof.ClientSeed, r.proof.Nonce, r.roll)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRotateChangesCommitment(t *testing.T) {
	g, err := NewGenerator()
	require.NoError(t, err)
	first := g.SeedHash()

	_, err = g.Rotate()
	require.NoError(t, err)
	assert.NotEqual(t, first, g.SeedHash())

	_, proof := g.Roll("x")
	assert.Equal(t, int64(1), proof.Nonce, "nonce resets on rotation")
}

func TestVerifyRejectsWrongRoll(t *testing.T) {
	g, err := NewGenerator()
	require.NoError(t, err)
	roll, proof := g.Roll("seed")
	revealed, err := g.Rotate()
	require.NoError(t, err)

	ok, err := Verify(revealed, proof.ClientSeed, proof.Nonce, (roll+1)%RollRange)
	require.NoError(t, err)
	assert.False(t, ok)
}
