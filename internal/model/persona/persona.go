package persona

import "strings"

// SummarySource records which path produced a Document's summary.
type SummarySource string

const (
	SourceDefault    SummarySource = "default"
	SourceCache      SummarySource = "cache"
	SourceGenerated  SummarySource = "generated"
	SourceFallback   SummarySource = "fallback"
	SourceNoReasoner SummarySource = "no-reasoner"
	SourceLoadError  SummarySource = "load-error"
)

// Fixed texts used when no document, no reasoning provider, or a failed generation is involved.
const (
	DefaultRawText = "Standard Professional Persona"
	DefaultSummary = "A helpful professional assistant."

	LoadErrorRawText = "Error loading persona."
	LoadErrorSummary = "A helpful assistant."

	NoReasonerSummary = "No API Key - Default Persona"

	// GenerationFailedMarker identifies a summary that must never be cached.
	GenerationFailedMarker = "Summary Generation Failed"
	FallbackSummary        = "Professional Digital Twin (" + GenerationFailedMarker + ")"
)

// Document is the persona being role-played. It is built once at startup and
// never mutated afterwards, so it is passed around by value.
type Document struct {
	RawText string        `json:"-"`
	Summary string        `json:"summary"`
	Source  SummarySource `json:"source"`
}

// Cacheable reports whether Summary may be persisted to the summary cache.
func (d Document) Cacheable() bool {
	return d.Source == SourceGenerated && !strings.Contains(d.Summary, GenerationFailedMarker)
}
