package book

import (
	"fmt"

	"github.com/vampirenirmal/bookforge/internal/core"
)

// ValidateNumbering enforces the contiguous 1..N chapter sequence. Violated
// inputs raise; nothing ever silently renumbers.
func ValidateNumbering(chapters []Chapter) error {
	seen := make(map[int]bool, len(chapters))
	for i, ch := range chapters {
		if ch.Number != i+1 {
			return &core.ValidationError{
				Component: "outline",
				Field:     "chapters",
				Message:   fmt.Sprintf("chapter at index %d has number %d, want %d", i, ch.Number, i+1),
				Value:     ch.Number,
			}
		}
		if seen[ch.Number] {
			return &core.ValidationError{
				Component: "outline",
				Field:     "chapters",
				Message:   fmt.Sprintf("duplicate chapter number %d", ch.Number),
				Value:     ch.Number,
			}
		}
		seen[ch.Number] = true
	}
	return nil
}

// Complete reports whether a chapter is structurally complete: all required
// fields present, not merely "present in the list". Used by the resume
// protocol to find the last salvageable chapter.
func (c Chapter) Complete() bool {
	if c.Number <= 0 || c.Title == "" || c.Summary == "" || c.WordCountTarget <= 0 {
		return false
	}
	return len(c.Scenes) > 0 || len(c.KeyEvents) > 0
}

// MissingField names the first required field a chapter lacks, for error
// reporting. Returns "" when the chapter is complete.
func (c Chapter) MissingField() string {
	switch {
	case c.Number <= 0:
		return "number"
	case c.Title == "":
		return "title"
	case c.Summary == "":
		return "summary"
	case c.WordCountTarget <= 0:
		return "word_count_target"
	case len(c.Scenes) == 0 && len(c.KeyEvents) == 0:
		return "scenes"
	}
	return ""
}

// Validate checks the outline's required sections and the numbering
// invariant. The section name in the returned error is exact so callers can
// report precisely what the response dropped.
func (o *Outline) Validate() error {
	if o.Metadata.Genre == "" && o.Metadata.ChapterCount == 0 && len(o.Metadata.Themes) == 0 {
		return &core.MalformedResponseError{Level: "outline", Section: "metadata"}
	}
	if len(o.Characters) == 0 {
		return &core.MalformedResponseError{Level: "outline", Section: "characters"}
	}
	if o.World.SettingOverview == "" && len(o.World.KeyLocations) == 0 {
		return &core.MalformedResponseError{Level: "outline", Section: "world"}
	}
	if len(o.Chapters) == 0 {
		return &core.MalformedResponseError{Level: "outline", Section: "chapters"}
	}
	for _, ch := range o.Chapters {
		if field := ch.MissingField(); field != "" {
			return &core.MalformedResponseError{
				Level:   "outline",
				Section: fmt.Sprintf("chapters[%d].%s", ch.Number, field),
			}
		}
	}
	return ValidateNumbering(o.Chapters)
}

// ChapterChanged reports whether two outline entries for the same chapter
// differ meaningfully, i.e. in a way that invalidates prose written against
// the old entry. Sensory details and subplot threads are advisory and do
// not count.
func ChapterChanged(old, new Chapter) bool {
	if old.Title != new.Title || old.Summary != new.Summary {
		return true
	}
	return !equalStrings(old.Scenes, new.Scenes) ||
		!equalStrings(old.KeyEvents, new.KeyEvents) ||
		!equalStrings(old.CharacterDevelopments, new.CharacterDevelopments) ||
		!equalStrings(old.RelationshipBeats, new.RelationshipBeats) ||
		!equalStrings(old.TensionPoints, new.TensionPoints)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
