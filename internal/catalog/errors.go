package catalog

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes catalog errors.
type ErrorCode string

const (
	// ErrCodeUnknownIngredient indicates a name that was never registered as an ingredient.
	ErrCodeUnknownIngredient ErrorCode = "UNKNOWN_INGREDIENT"

	// ErrCodeUnknownBeverage indicates a name that was never registered as a beverage.
	ErrCodeUnknownBeverage ErrorCode = "UNKNOWN_BEVERAGE"

	// ErrCodeDuplicateBeverage indicates a second registration of the same beverage name.
	ErrCodeDuplicateBeverage ErrorCode = "DUPLICATE_BEVERAGE"

	// ErrCodeEmptyRecipe indicates a beverage registered without ingredients.
	ErrCodeEmptyRecipe ErrorCode = "EMPTY_RECIPE"

	// ErrCodeInvalidQuantity indicates a recipe quantity that is not strictly positive.
	ErrCodeInvalidQuantity ErrorCode = "INVALID_QUANTITY"

	// ErrCodeInvalidName indicates an empty name.
	ErrCodeInvalidName ErrorCode = "INVALID_NAME"
)

// Error is returned by every Catalog operation that can fail.
type Error struct {
	Code ErrorCode

	// Name is the ingredient or beverage the error is about.
	Name string

	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s (%q)", e.Code, e.Message, e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the catalog error code carried by err, or "" if err is not
// a catalog error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsUnknownBeverage reports whether err is an unknown-beverage error.
func IsUnknownBeverage(err error) bool {
	return CodeOf(err) == ErrCodeUnknownBeverage
}

// IsUnknownIngredient reports whether err is an unknown-ingredient error.
func IsUnknownIngredient(err error) bool {
	return CodeOf(err) == ErrCodeUnknownIngredient
}
