// Package catalog resolves ingredient names and beverage recipes.
//
// The catalog is the read-mostly collaborator of the dispense engine: it is
// populated once at startup (usually from a CUE fixture) and then only read.
// A Catalog is an explicitly constructed value; there is no package-level
// registry.
//
// # Names
//
// Ingredient and beverage names are normalized at every entry point
// (Unicode NFC, surrounding whitespace trimmed). "Crème" typed with a
// combining accent and "Crème" typed precomposed resolve to the same key.
//
// # Recipes
//
// A recipe keeps its declaration order. The engine validates recipe lines in
// that order, so the first reported shortage is deterministic.
package catalog
