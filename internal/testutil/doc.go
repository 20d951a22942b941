// Package testutil provides shared fixtures for tests: a ready-made tea and
// coffee catalog and terse decimal constructors.
package testutil
