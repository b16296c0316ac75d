package schema

import "errors"

// Failure classes of a turn. Callers match them with errors.Is; the concrete
// cause stays reachable through the wrap chain.
var (
	// ErrTransientBackend is a network or backend failure that survived retries.
	ErrTransientBackend = errors.New("transient backend failure")
	// ErrUnsupportedBackend is returned for an unknown store name. Never retried.
	ErrUnsupportedBackend = errors.New("unsupported backend")
	ErrEmbedding          = errors.New("embedding failure")
	// ErrClassification means the classifier output did not parse as an intent.
	ErrClassification = errors.New("classification failure")
	ErrGeneration     = errors.New("generation failure")
	// ErrEnrichment is the only non-fatal class: the turn continues without API results.
	ErrEnrichment = errors.New("enrichment failure")
)
