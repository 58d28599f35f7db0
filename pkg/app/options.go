package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// CliOptions abstracts configuration options for reading parameters from the
// command line.
type CliOptions interface {
	// Flags returns the flags grouped by section, one FlagSet per section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields.
	Complete() error

	// Validate checks the options and aggregates every problem found.
	Validate() error
}

// NamedFlagSetOptions is kept as the name commands refer to.
type NamedFlagSetOptions = CliOptions
