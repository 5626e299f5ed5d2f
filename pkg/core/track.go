// pkg/core/track.go
package core

import "strings"

// Mode is the cadence mode of an active session.
type Mode string

const (
	ModeTracking Mode = "tracking"
	ModePaused   Mode = "paused"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeTracking || m == ModePaused
}

// Writer identifies the execution context that may persist fixes.
type Writer string

const (
	WriterForeground Writer = "fg"
	WriterBackground Writer = "bg"
)

// Valid reports whether w is a known writer.
func (w Writer) Valid() bool {
	return w == WriterForeground || w == WriterBackground
}

// MaxLabelLength is the maximum number of characters kept for a track label.
const MaxLabelLength = 120

// TrackSummary is a recorded route with its label, as listed to consumers.
type TrackSummary struct {
	ID        string
	Distance  *float64
	StartedAt int64
	EndedAt   *int64
	Label     *string
}

// Active reports whether the track has not been finalized yet.
func (t TrackSummary) Active() bool {
	return t.EndedAt == nil
}

// ActiveSession is the durable record of what is currently being tracked.
type ActiveSession struct {
	TrackID      string `json:"trackId"`
	SegmentIndex int    `json:"segmentIndex"`
	Mode         Mode   `json:"mode"`
	Writer       Writer `json:"writer"`
	// Resumed marks a session that reopened a finished track. Restoring
	// accepts the track even though it has an end time.
	Resumed bool `json:"resumed,omitempty"`
}

// NormalizeLabel trims text and truncates it to MaxLabelLength characters.
// An empty result means the label should be cleared.
func NormalizeLabel(text string) string {
	s := strings.TrimSpace(text)
	r := []rune(s)
	if len(r) > MaxLabelLength {
		s = strings.TrimSpace(string(r[:MaxLabelLength]))
	}
	return s
}
