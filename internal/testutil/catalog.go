package testutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/brew/internal/catalog"
)

// Ingredients registered by NewCatalog, in declaration order.
var Ingredients = []string{"water", "milk", "tea", "ginger", "sugar", "coffee", "elaichi"}

// GingerTea is the recipe of the "ginger tea" beverage registered by NewCatalog.
var GingerTea = []catalog.RecipeItem{
	{Ingredient: "water", Quantity: decimal.NewFromInt(50)},
	{Ingredient: "milk", Quantity: decimal.NewFromInt(10)},
	{Ingredient: "tea", Quantity: decimal.NewFromInt(10)},
	{Ingredient: "ginger", Quantity: decimal.NewFromInt(5)},
	{Ingredient: "sugar", Quantity: decimal.NewFromInt(10)},
}

// NewCatalog returns a catalog with the standard ingredients and three
// beverages: "ginger tea", "elaichi tea" and "coffee".
func NewCatalog(t testing.TB) *catalog.Catalog {
	t.Helper()

	c := catalog.New()
	for _, name := range Ingredients {
		_, err := c.RegisterIngredient(name)
		require.NoError(t, err)
	}

	RegisterBeverage(t, c, "ginger tea", GingerTea...)
	RegisterBeverage(t, c, "elaichi tea",
		Item("water", 50), Item("milk", 10), Item("tea", 10), Item("elaichi", 5), Item("sugar", 10))
	RegisterBeverage(t, c, "coffee",
		Item("water", 50), Item("milk", 10), Item("coffee", 10), Item("sugar", 10))
	return c
}

// RegisterBeverage registers a beverage and fails the test on error.
func RegisterBeverage(t testing.TB, c *catalog.Catalog, name string, recipe ...catalog.RecipeItem) catalog.Beverage {
	t.Helper()
	b, err := c.RegisterBeverage(name, recipe)
	require.NoError(t, err)
	return b
}

// Item builds a recipe line with an integer quantity.
func Item(ingredient string, quantity int64) catalog.RecipeItem {
	return catalog.RecipeItem{Ingredient: ingredient, Quantity: decimal.NewFromInt(quantity)}
}

// Qty returns an integer decimal.
func Qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// Quantities builds an ingredient map from integer quantities.
func Quantities(m map[string]int64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = decimal.NewFromInt(v)
	}
	return out
}

// Strings renders a quantity map for comparison with assert.Equal.
func Strings(m map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}
