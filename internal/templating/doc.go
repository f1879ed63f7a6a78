// Package templating renders double-brace expressions ({{ key }}) against a
// flat render context. An expression names a context key and may index into
// map and slice values with dotted segments, e.g. {{ serving.endpoint }} or
// {{ beam_args.0 }}.
package templating
