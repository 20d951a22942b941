package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorCode categorizes engine errors. The set is closed.
type ErrorCode string

const (
	// ErrCodeUnknownMachine indicates a machine id that was never created.
	ErrCodeUnknownMachine ErrorCode = "UNKNOWN_MACHINE"

	// ErrCodeUnknownBeverage indicates a beverage not registered in the catalog.
	ErrCodeUnknownBeverage ErrorCode = "UNKNOWN_BEVERAGE"

	// ErrCodeUnknownIngredient indicates an ingredient not registered in the catalog.
	ErrCodeUnknownIngredient ErrorCode = "UNKNOWN_INGREDIENT"

	// ErrCodeBeverageNotOnMachine indicates a registered beverage the machine does not serve.
	ErrCodeBeverageNotOnMachine ErrorCode = "BEVERAGE_NOT_ON_MACHINE"

	// ErrCodeIngredientUnavailable indicates a recipe ingredient with no stock entry at all.
	ErrCodeIngredientUnavailable ErrorCode = "INGREDIENT_UNAVAILABLE"

	// ErrCodeInsufficientQuantity indicates a recipe ingredient stocked below the required amount.
	ErrCodeInsufficientQuantity ErrorCode = "INSUFFICIENT_QUANTITY"

	// ErrCodeInvalidQuantity indicates a negative stock/threshold or a non-positive restock.
	ErrCodeInvalidQuantity ErrorCode = "INVALID_QUANTITY"

	// ErrCodeInvalidCapacity indicates a machine created with no outlets.
	ErrCodeInvalidCapacity ErrorCode = "INVALID_CAPACITY"
)

// Shortage describes one recipe line the machine cannot satisfy.
// Available is zero and Missing is true when the stock has no entry.
type Shortage struct {
	Ingredient string
	Required   decimal.Decimal
	Available  decimal.Decimal
	Missing    bool
}

// Error is returned by every engine operation that fails validation.
//
// Errors are always detected before any mutation, so a caller receiving an
// *Error knows the machine is exactly as it was before the call.
type Error struct {
	Code ErrorCode

	Message string

	MachineID  string
	Beverage   string
	Ingredient string

	// Required and Available are set for ErrCodeInsufficientQuantity
	// (Available is zero for ErrCodeIngredientUnavailable). They describe the
	// first deficient ingredient in recipe order.
	Required  decimal.Decimal
	Available decimal.Decimal

	// Shortages lists every deficient recipe line, in recipe order.
	Shortages []Shortage
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.MachineID != "" {
		fmt.Fprintf(&b, " (machine=%s)", e.MachineID)
	}
	return b.String()
}

// CodeOf returns the engine error code carried by err, or "" if err is not
// an engine error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsUnknownMachine returns true if err is an unknown-machine error.
func IsUnknownMachine(err error) bool { return CodeOf(err) == ErrCodeUnknownMachine }

// IsUnknownBeverage returns true if err is an unknown-beverage error.
func IsUnknownBeverage(err error) bool { return CodeOf(err) == ErrCodeUnknownBeverage }

// IsBeverageNotOnMachine returns true if err is a beverage-not-on-machine error.
func IsBeverageNotOnMachine(err error) bool { return CodeOf(err) == ErrCodeBeverageNotOnMachine }

// IsShortage returns true if err reports missing or insufficient stock.
func IsShortage(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeIngredientUnavailable || code == ErrCodeInsufficientQuantity
}

func unknownMachineError(id string) *Error {
	return &Error{
		Code:      ErrCodeUnknownMachine,
		Message:   "no machine with this id",
		MachineID: id,
	}
}

func unknownBeverageError(machineID, beverage string) *Error {
	return &Error{
		Code:      ErrCodeUnknownBeverage,
		Message:   fmt.Sprintf("beverage %q is not registered", beverage),
		MachineID: machineID,
		Beverage:  beverage,
	}
}

func beverageNotOnMachineError(machineID, beverage string) *Error {
	return &Error{
		Code:      ErrCodeBeverageNotOnMachine,
		Message:   fmt.Sprintf("beverage %q is not served by this machine", beverage),
		MachineID: machineID,
		Beverage:  beverage,
	}
}

func unknownIngredientError(machineID, ingredient string) *Error {
	return &Error{
		Code:       ErrCodeUnknownIngredient,
		Message:    fmt.Sprintf("ingredient %q is not registered", ingredient),
		MachineID:  machineID,
		Ingredient: ingredient,
	}
}

func invalidQuantityError(machineID, ingredient string, q decimal.Decimal, rule string) *Error {
	return &Error{
		Code:       ErrCodeInvalidQuantity,
		Message:    fmt.Sprintf("quantity %s for %q must be %s", q.String(), ingredient, rule),
		MachineID:  machineID,
		Ingredient: ingredient,
	}
}

// shortageError builds the error for a failed validation phase. The primary
// fields describe shortages[0].
func shortageError(machineID, beverage string, shortages []Shortage) *Error {
	first := shortages[0]
	e := &Error{
		MachineID:  machineID,
		Beverage:   beverage,
		Ingredient: first.Ingredient,
		Required:   first.Required,
		Available:  first.Available,
		Shortages:  shortages,
	}
	if first.Missing {
		e.Code = ErrCodeIngredientUnavailable
		e.Message = fmt.Sprintf("%s cannot be prepared because %s is not available", beverage, first.Ingredient)
	} else {
		e.Code = ErrCodeInsufficientQuantity
		e.Message = fmt.Sprintf("%s cannot be prepared because %s is insufficient (need %s, have %s)",
			beverage, first.Ingredient, first.Required.String(), first.Available.String())
	}
	if len(shortages) > 1 {
		names := make([]string, 0, len(shortages)-1)
		for _, s := range shortages[1:] {
			names = append(names, s.Ingredient)
		}
		e.Message += "; also short: " + strings.Join(names, ", ")
	}
	return e
}
