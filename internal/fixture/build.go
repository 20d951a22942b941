package fixture

import (
	"context"
	"fmt"

	"github.com/roach88/brew/internal/catalog"
	"github.com/roach88/brew/internal/engine"
)

// Built is a fixture turned into live objects.
type Built struct {
	Catalog *catalog.Catalog
	Engine  *engine.Engine

	// Names lists fixture machine names in declaration order.
	Names []string

	ids map[string]string
}

// MachineID returns the engine id of the machine declared under name.
func (b *Built) MachineID(name string) (string, bool) {
	id, ok := b.ids[name]
	return id, ok
}

// Build registers the fixture's ingredients and beverages in a new catalog,
// then creates every machine on a new engine configured with opts.
func (f *Fixture) Build(ctx context.Context, opts ...engine.EngineOption) (*Built, error) {
	cat := catalog.New()

	for _, name := range f.Ingredients {
		if _, err := cat.RegisterIngredient(name); err != nil {
			return nil, &LoadError{
				Code:    ErrCodeIngredient,
				Message: fmt.Sprintf("ingredient %q: %v", name, err),
				Err:     err,
			}
		}
	}

	for _, b := range f.Beverages {
		if _, err := cat.RegisterBeverage(b.Name, b.Recipe); err != nil {
			return nil, &LoadError{
				Code:    ErrCodeBeverage,
				Message: fmt.Sprintf("beverage %q: %v", b.Name, err),
				Pos:     b.Pos,
				Err:     err,
			}
		}
	}

	eng := engine.New(cat, opts...)
	built := &Built{
		Catalog: cat,
		Engine:  eng,
		ids:     make(map[string]string, len(f.Machines)),
	}

	for _, m := range f.Machines {
		id, err := eng.CreateMachine(ctx, engine.MachineConfig{
			Outlets:    m.Outlets,
			Beverages:  m.Beverages,
			Stock:      m.Stock,
			Thresholds: m.Thresholds,
		})
		if err != nil {
			return nil, &LoadError{
				Code:    ErrCodeMachine,
				Message: fmt.Sprintf("machine %q: %v", m.Name, err),
				Pos:     m.Pos,
				Err:     err,
			}
		}
		built.ids[m.Name] = id
		built.Names = append(built.Names, m.Name)
	}

	return built, nil
}
