// Package sym defines the glyphs scribe uses as log markers and CLI prefixes.
// They are stable across logs, the CLI and the HTTP health payload.
package sym

// Segment glyphs.
const (
	AM = "≡" // am: configuration and system settings
	IX = "⨳" // ix: ingest, source acquisition from uploads and URLs
	AX = "⋈" // ax: query, history and job listings
)

// System infrastructure glyphs.
const (
	Pulse      = "꩜" // async jobs, dispatch queue, retention
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // history storage
	Doc        = "▤" // transcript artifacts
)

// entry binds a glyph to its command word and description.
type entry struct {
	glyph       string
	command     string
	description string
}

var registry = []entry{
	{AM, "am", "Configuration"},
	{IX, "ix", "Source acquisition"},
	{AX, "ax", "Job and history queries"},
	{Pulse, "", "Async jobs and retention"},
	{PulseOpen, "", "Graceful startup"},
	{PulseClose, "", "Graceful shutdown"},
	{DB, "", "History storage"},
	{Doc, "", "Transcript artifacts"},
}

// Lookup tables built from the registry at init time.
var (
	commandToGlyph map[string]string
	descriptions   map[string]string
)

func init() {
	commandToGlyph = make(map[string]string, len(registry))
	descriptions = make(map[string]string, len(registry))
	for _, e := range registry {
		if e.command != "" {
			commandToGlyph[e.command] = e.glyph
		}
		descriptions[e.glyph] = e.description
	}
}

// FromCommand returns the glyph for a command word, or "" if unknown.
func FromCommand(cmd string) string {
	return commandToGlyph[cmd]
}

// Describe returns a human-readable description of a glyph.
func Describe(glyph string) string {
	return descriptions[glyph]
}
