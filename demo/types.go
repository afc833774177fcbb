// Package demo is a hand-written stand-in for the generated function/trait
// bindings turbo-tasks produces via proc macros: a handful of plain
// functions and one trait, registered against pkg/registry by ordinary Go
// code instead of code generation. It exists to exercise the engine
// end-to-end in tests and from cmd/tgctl, not as a library other packages
// depend on.
package demo

// Int and Str are the two value types demo's functions and trait
// implementations read and write through cells. Defined types (rather
// than bare int/string) give SharedReference a stable, demo-specific type
// tag distinct from any other package's plain int/string cells.
type Int int

type Str string
