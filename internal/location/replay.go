package location

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/heidestein/routetrack/pkg/core"
)

// Control lines in a fix log.
const (
	ControlPause  = "pause"
	ControlResume = "resume"
)

// Entry is one line of a fix log: either a fix or a control command.
type Entry struct {
	Line    int
	Fix     *core.Fix
	Control string
}

type logLine struct {
	Control   string   `json:"control"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Speed     *float64 `json:"speed"`
	Altitude  *float64 `json:"altitude"`
	Ts        int64    `json:"ts"`
}

// ReadFixes reads a newline-delimited JSON fix log and calls fn per entry.
// Blank lines are skipped. Reading stops at the first error from fn.
func ReadFixes(r io.Reader, fn func(Entry) error) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var l logLine
		if err := json.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}

		e := Entry{Line: n}
		switch {
		case l.Control != "":
			if l.Control != ControlPause && l.Control != ControlResume {
				return fmt.Errorf("line %d: unknown control %q", n, l.Control)
			}
			e.Control = l.Control
		case l.Latitude != nil && l.Longitude != nil:
			e.Fix = &core.Fix{
				Latitude:  *l.Latitude,
				Longitude: *l.Longitude,
				Accuracy:  l.Accuracy,
				Speed:     l.Speed,
				Altitude:  l.Altitude,
				Timestamp: l.Ts,
			}
		default:
			return fmt.Errorf("line %d: missing latitude or longitude", n)
		}

		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read fix log: %w", err)
	}
	return nil
}
