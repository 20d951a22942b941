package fixture

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes reported by Load and Build.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeSchema       = "E201" // Value violates the fixture schema
	ErrCodeBeverage     = "E202" // Beverage rejected by the catalog
	ErrCodeMachine      = "E203" // Machine rejected by the engine
	ErrCodeIngredient   = "E204" // Ingredient rejected by the catalog
	ErrCodeEmptyFixture = "E205" // No ingredients, beverages or machines
)

// LoadError is a fixture error with an optional CUE position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos

	// Err is the underlying catalog or engine error, if any.
	Err error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying catalog or engine error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// fromCUE converts a CUE error into a LoadError. Positions inside the user's
// files win over positions inside the embedded schema.
func fromCUE(code string, err error) *LoadError {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}

	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	for _, pos := range errors.Positions(first) {
		if !le.Pos.IsValid() {
			le.Pos = pos
		}
		if pos.Filename() != schemaFilename {
			le.Pos = pos
			break
		}
	}
	return le
}
