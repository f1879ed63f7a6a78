// Package application provides application initialization and dependency wiring.
// It builds the resolver, downloader, scaffold initializer and tfx taster from
// the loaded configuration, keeping the main package focused on CLI parsing.
package application
