package unit

import (
	"math/big"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-onchain/model"
)

func TestToWei(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "one ether", in: "1", want: "1000000000000000000"},
		{name: "fraction", in: "0.001", want: "1000000000000000"},
		{name: "trimmed", in: " 2.5 ", want: "2500000000000000000"},
		{name: "one wei", in: "0.000000000000000001", want: "1"},
		{name: "zero", in: "0", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToWei(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToWeiRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := ToWei(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, model.ErrInvalidAmount), in)
	}
}

func TestFromWei(t *testing.T) {
	assert.Equal(t, "1", FromWei(big.NewInt(1e18)))
	assert.Equal(t, "1.5", FromWei(big.NewInt(15e17)))
	assert.Equal(t, "0", FromWei(big.NewInt(0)))
	assert.Equal(t, "0", FromWei(nil))
	assert.Equal(t, "0.001 ETH", FormatEth(big.NewInt(1e15)))
}
