package domain

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndorseCountsSenderOnce(t *testing.T) {
	att := NewAttestation("0xabc", uint256.NewInt(3), "0x01")

	assert.False(t, att.Endorse("0x01", uint256.NewInt(3)))
	assert.True(t, att.Endorse("0x02", uint256.NewInt(4)))

	assert.Equal(t, uint64(7), att.StakeWeight.Uint64())
	assert.Equal(t, []string{"0x01", "0x02"}, att.Senders)
}

func TestEndorseSaturatesOnOverflow(t *testing.T) {
	ceiling := new(uint256.Int).SetAllOne()
	att := NewAttestation("0xabc", ceiling, "0x01")

	require.True(t, att.Endorse("0x02", uint256.NewInt(5)))

	assert.Equal(t, ceiling, &att.StakeWeight)
	assert.Len(t, att.Senders, 2)

	// A saturated weight still outranks any smaller one.
	other := NewAttestation("0xdef", new(uint256.Int).Sub(ceiling, uint256.NewInt(1)), "0x03")
	assert.Equal(t, 1, att.StakeWeight.Cmp(&other.StakeWeight))
}
