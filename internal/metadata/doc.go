// Package metadata loads pipeline metadata documents and resolves the
// {{ key }} template expressions embedded in their configuration sections.
//
// A document is a YAML mapping. Top-level keys whose name contains
// "configurations" are configuration sections; every other key is a
// passthrough field kept verbatim. Each configuration entry declares a type
// tag (string, array, object, or any other literal tag) and a value.
//
// Resolve renders every string, array element, and object value against a
// single render context built from all configuration sections, repeating
// until no template markers remain or the pass bound is reached.
package metadata
