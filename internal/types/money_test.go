package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPercent_NoRemainderLost(t *testing.T) {
	for _, amount := range []int64{0, 1, 7, 99, 101, 1999, 2000, 123457} {
		m := NewMoney(amount, "")
		share, rest := m.SplitPercent(10)
		assert.Equal(t, amount, share.Amount+rest.Amount, "amount %d", amount)
		assert.LessOrEqual(t, share.Amount*10, amount)
	}
}

func TestSplitPercent_TenNinety(t *testing.T) {
	share, rest := NewMoney(2000, "INR").SplitPercent(10)
	assert.Equal(t, int64(200), share.Amount)
	assert.Equal(t, int64(1800), rest.Amount)
	assert.Equal(t, "INR", rest.Currency)
}

func TestPercent_Floors(t *testing.T) {
	assert.Equal(t, int64(4), NewMoney(99, "").Percent(5).Amount)
	assert.Equal(t, int64(100), NewMoney(2000, "").Percent(5).Amount)
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" Vendor ")
	assert.True(t, ok)
	assert.Equal(t, RoleVendor, r)

	_, ok = ParseRole("system")
	assert.False(t, ok)
}
