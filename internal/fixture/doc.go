// Package fixture loads coffee machine configurations written in CUE.
//
// A fixture declares the ingredient catalog, the beverages with their
// recipes, and any number of named machines:
//
//	ingredients: ["hot_water", "hot_milk", "ginger_syrup"]
//	beverages: "ginger tea": {hot_water: 50, ginger_syrup: 5}
//	machines: main: {
//		outlets:    3
//		beverages:  ["ginger tea"]
//		stock:      {hot_water: 500}
//		thresholds: {hot_water: 100}
//	}
//
// Every fixture is unified with an embedded schema before it is read, so
// type errors (negative stock, zero outlets, non-numeric quantities) are
// reported with CUE file positions. Recipe order is declaration order.
//
// Build turns a Fixture into a live catalog and engine.
package fixture
