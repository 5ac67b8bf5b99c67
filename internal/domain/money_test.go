package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountKeepsCentsExact(t *testing.T) {
	assert.Equal(t, "0.30", Amount(10).Add(Amount(20).Decimal).StringFixed(2))
	assert.Equal(t, "1234.05", Amount(123405).StringFixed(2))
}

func TestAverageAmountZeroCount(t *testing.T) {
	assert.True(t, AverageAmount(1000, 0).IsZero())
}

func TestAverageAmountRoundsOnlyAtEnd(t *testing.T) {
	// 10.00 / 3 = 3.333.. -> 3.33
	assert.Equal(t, "3.33", AverageAmount(1000, 3).StringFixed(2))
	// 20.00 / 3 = 6.666.. -> 6.67
	assert.Equal(t, "6.67", AverageAmount(2000, 3).StringFixed(2))
}

func TestSaleLinesTotal(t *testing.T) {
	sale := Sale{Items: []SaleLine{
		{Quantity: 3, UnitPriceCents: 250, SubtotalCents: 750},
		{Quantity: 1, UnitPriceCents: 375, SubtotalCents: 375},
	}}
	assert.Equal(t, int64(1125), sale.LinesTotal())
}

func TestCategoryValid(t *testing.T) {
	assert.True(t, Category("").Valid())
	assert.True(t, CategoryPastry.Valid())
	assert.False(t, Category("Soup").Valid())
}

func TestMoneyMarshalsTwoPlaces(t *testing.T) {
	payload, err := json.Marshal(struct {
		A   Money `json:"a"`
		B   Money `json:"b"`
		Avg Money `json:"avg"`
		Nil Money `json:"nil"`
	}{Amount(1250), Amount(1000), AverageAmount(2000, 2), AverageAmount(0, 0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"12.50","b":"10.00","avg":"10.00","nil":"0.00"}`, string(payload))

	var back struct {
		A Money `json:"a"`
	}
	require.NoError(t, json.Unmarshal(payload, &back))
	assert.Equal(t, "12.50", back.A.StringFixed(2))
}
