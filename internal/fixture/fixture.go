package fixture

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"

	"github.com/roach88/brew/internal/catalog"
)

const schemaFilename = "schema.cue"

//go:embed schema.cue
var schemaSource []byte

//go:embed default.cue
var defaultSource []byte

// Fixture is a decoded, schema-checked configuration.
type Fixture struct {
	Ingredients []string
	Beverages   []Beverage
	Machines    []Machine

	// Files is the number of CUE files the fixture was read from.
	Files int
}

// Beverage is one entry of the beverages block.
type Beverage struct {
	Name   string
	Recipe []catalog.RecipeItem
	Pos    token.Pos
}

// Machine is one entry of the machines block.
type Machine struct {
	Name       string
	Outlets    int
	Beverages  []string
	Stock      map[string]decimal.Decimal
	Thresholds map[string]decimal.Decimal
	Pos        token.Pos
}

// Machine returns the machine declared under name.
func (f *Fixture) Machine(name string) (Machine, bool) {
	for _, m := range f.Machines {
		if m.Name == name {
			return m, true
		}
	}
	return Machine{}, false
}

// Load reads every CUE file in dir as one fixture.
func Load(dir string) (*Fixture, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("fixture directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing fixture directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fromCUE(ErrCodeLoadFailed, inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}

	f, err := decode(ctx, value)
	if err != nil {
		return nil, err
	}
	f.Files = len(files)
	return f, nil
}

// LoadSource reads a fixture from a single CUE document. filename is used
// only in error positions.
func LoadSource(filename string, src []byte) (*Fixture, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}

	f, err := decode(ctx, value)
	if err != nil {
		return nil, err
	}
	f.Files = 1
	return f, nil
}

// Default returns the built-in fixture: one three-outlet machine serving
// ginger tea, elaichi tea and coffee.
func Default() (*Fixture, error) {
	return LoadSource("default.cue", defaultSource)
}

// decode unifies value with the schema and extracts the fixture.
func decode(ctx *cue.Context, value cue.Value) (*Fixture, error) {
	schema := ctx.CompileBytes(schemaSource, cue.Filename(schemaFilename))
	if err := schema.Err(); err != nil {
		return nil, fromCUE(ErrCodeGeneric, err)
	}

	value = schema.Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}

	f := &Fixture{}
	var err error

	if f.Ingredients, err = stringList(value.LookupPath(cue.ParsePath("ingredients"))); err != nil {
		return nil, err
	}

	beverages, err := value.LookupPath(cue.ParsePath("beverages")).Fields()
	if err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	for beverages.Next() {
		recipe, err := recipeItems(beverages.Value())
		if err != nil {
			return nil, err
		}
		f.Beverages = append(f.Beverages, Beverage{
			Name:   beverages.Selector().Unquoted(),
			Recipe: recipe,
			Pos:    beverages.Value().Pos(),
		})
	}

	machines, err := value.LookupPath(cue.ParsePath("machines")).Fields()
	if err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	for machines.Next() {
		m, err := decodeMachine(machines.Selector().Unquoted(), machines.Value())
		if err != nil {
			return nil, err
		}
		f.Machines = append(f.Machines, m)
	}

	if len(f.Ingredients) == 0 && len(f.Beverages) == 0 && len(f.Machines) == 0 {
		return nil, &LoadError{Code: ErrCodeEmptyFixture, Message: "fixture declares no ingredients, beverages or machines"}
	}
	return f, nil
}

func decodeMachine(name string, v cue.Value) (Machine, error) {
	m := Machine{Name: name, Pos: v.Pos()}

	outlets, err := v.LookupPath(cue.ParsePath("outlets")).Int64()
	if err != nil {
		return Machine{}, fromCUE(ErrCodeSchema, err)
	}
	m.Outlets = int(outlets)

	if m.Beverages, err = stringList(v.LookupPath(cue.ParsePath("beverages"))); err != nil {
		return Machine{}, err
	}
	if m.Stock, err = quantities(v.LookupPath(cue.ParsePath("stock"))); err != nil {
		return Machine{}, err
	}
	if m.Thresholds, err = quantities(v.LookupPath(cue.ParsePath("thresholds"))); err != nil {
		return Machine{}, err
	}
	return m, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, fromCUE(ErrCodeSchema, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func recipeItems(v cue.Value) ([]catalog.RecipeItem, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	var out []catalog.RecipeItem
	for iter.Next() {
		q, err := number(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.RecipeItem{Ingredient: iter.Selector().Unquoted(), Quantity: q})
	}
	return out, nil
}

func quantities(v cue.Value) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if !v.Exists() {
		return out, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	for iter.Next() {
		q, err := number(iter.Value())
		if err != nil {
			return nil, err
		}
		out[iter.Selector().Unquoted()] = q
	}
	return out, nil
}

// number converts a concrete CUE number to a decimal without passing
// through float64.
func number(v cue.Value) (decimal.Decimal, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return decimal.Decimal{}, fromCUE(ErrCodeSchema, err)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Decimal{}, &LoadError{
			Code:    ErrCodeSchema,
			Message: fmt.Sprintf("quantity %s is not a decimal number", raw),
			Pos:     v.Pos(),
		}
	}
	return d, nil
}
