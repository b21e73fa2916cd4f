// Package attr defines the typed attributes attached to device nodes.
//
// An attribute is a (name, type, value) triple. Names need not be unique
// within a node; lookups select by name and type. Equality is type
// specific: numbers compare numerically, strings lexically, and raw values
// byte by byte after their lengths match.
package attr
