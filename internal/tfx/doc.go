// Package tfx drives the external tfx command-line tool: it derives the
// pipeline create/update and run create invocations from a resolved metadata
// document and executes them against the configured orchestration endpoint.
package tfx
