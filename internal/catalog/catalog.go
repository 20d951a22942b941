package catalog

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// RecipeItem is one line of a recipe.
type RecipeItem struct {
	Ingredient string
	Quantity   decimal.Decimal
}

// Beverage is a named, immutable recipe.
type Beverage struct {
	Name   string
	Recipe []RecipeItem
}

// Requires returns the quantity of ingredient the recipe needs and whether
// the recipe uses it at all.
func (b Beverage) Requires(ingredient string) (decimal.Decimal, bool) {
	ingredient = Normalize(ingredient)
	for _, item := range b.Recipe {
		if item.Ingredient == ingredient {
			return item.Quantity, true
		}
	}
	return decimal.Zero, false
}

func (b Beverage) clone() Beverage {
	recipe := make([]RecipeItem, len(b.Recipe))
	copy(recipe, b.Recipe)
	return Beverage{Name: b.Name, Recipe: recipe}
}

// Catalog holds the registered ingredients and beverages.
//
// Thread-safety: all methods are safe for concurrent use. After setup the
// catalog is only read, so lookups take the read lock.
type Catalog struct {
	mu          sync.RWMutex
	ingredients map[string]struct{}
	beverages   map[string]Beverage
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		ingredients: make(map[string]struct{}),
		beverages:   make(map[string]Beverage),
	}
}

// RegisterIngredient adds an ingredient. Registering the same name twice is a
// no-op. Returns the normalized name.
func (c *Catalog) RegisterIngredient(name string) (string, error) {
	name = Normalize(name)
	if name == "" {
		return "", &Error{Code: ErrCodeInvalidName, Message: "ingredient name must not be empty"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingredients[name] = struct{}{}
	return name, nil
}

// RegisterBeverage adds a beverage with the given recipe. Every recipe
// ingredient must already be registered and every quantity must be strictly
// positive. The recipe slice is copied.
func (c *Catalog) RegisterBeverage(name string, recipe []RecipeItem) (Beverage, error) {
	name = Normalize(name)
	if name == "" {
		return Beverage{}, &Error{Code: ErrCodeInvalidName, Message: "beverage name must not be empty"}
	}
	if len(recipe) == 0 {
		return Beverage{}, &Error{Code: ErrCodeEmptyRecipe, Name: name, Message: "recipe has no ingredients"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.beverages[name]; exists {
		return Beverage{}, &Error{Code: ErrCodeDuplicateBeverage, Name: name, Message: "beverage already registered"}
	}

	items := make([]RecipeItem, 0, len(recipe))
	seen := make(map[string]int, len(recipe))
	for _, item := range recipe {
		ingredient := Normalize(item.Ingredient)
		if _, ok := c.ingredients[ingredient]; !ok {
			return Beverage{}, &Error{Code: ErrCodeUnknownIngredient, Name: ingredient, Message: "recipe uses unregistered ingredient"}
		}
		if !item.Quantity.IsPositive() {
			return Beverage{}, &Error{
				Code:    ErrCodeInvalidQuantity,
				Name:    ingredient,
				Message: "recipe quantity must be positive, got " + item.Quantity.String(),
			}
		}
		// Repeated lines for one ingredient fold into the first occurrence.
		if idx, dup := seen[ingredient]; dup {
			items[idx].Quantity = items[idx].Quantity.Add(item.Quantity)
			continue
		}
		seen[ingredient] = len(items)
		items = append(items, RecipeItem{Ingredient: ingredient, Quantity: item.Quantity})
	}

	b := Beverage{Name: name, Recipe: items}
	c.beverages[name] = b
	return b.clone(), nil
}

// ResolveBeverage returns the beverage registered under name.
func (c *Catalog) ResolveBeverage(name string) (Beverage, error) {
	name = Normalize(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	b, ok := c.beverages[name]
	if !ok {
		return Beverage{}, &Error{Code: ErrCodeUnknownBeverage, Name: name, Message: "beverage not registered"}
	}
	return b.clone(), nil
}

// IngredientExists reports whether name was registered as an ingredient.
func (c *Catalog) IngredientExists(name string) bool {
	name = Normalize(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.ingredients[name]
	return ok
}

// Ingredients returns all registered ingredient names, sorted.
func (c *Catalog) Ingredients() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.ingredients))
	for name := range c.ingredients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Beverages returns all registered beverages, sorted by name.
func (c *Catalog) Beverages() []Beverage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Beverage, 0, len(c.beverages))
	for _, b := range c.beverages {
		out = append(out, b.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
