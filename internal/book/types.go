package book

// Domain model for the layered document hierarchy: premise → treatment →
// chapter outline → prose. The outline is self-contained on purpose so
// chapter-level edits never need the upstream documents in their prompts.

// PremiseMetadata captures the taxonomy selections and framing that shaped
// the premise.
type PremiseMetadata struct {
	Genre           string              `yaml:"genre"`
	Themes          []string            `yaml:"themes"`
	Hook            string              `yaml:"hook"`
	Selections      map[string][]string `yaml:"selections,omitempty"`
	OriginalConcept string              `yaml:"original_concept,omitempty"`
	UniqueElements  []string            `yaml:"unique_elements,omitempty"`
}

type Premise struct {
	Text     string
	Metadata PremiseMetadata
}

type Treatment struct {
	Text string
}

// OutlineMetadata is the book-level slice of the foundation.
type OutlineMetadata struct {
	Genre           string   `yaml:"genre"`
	Tone            string   `yaml:"tone"`
	Pacing          string   `yaml:"pacing"`
	Themes          []string `yaml:"themes"`
	TargetWordCount int      `yaml:"target_word_count"`
	ChapterCount    int      `yaml:"chapter_count"`
}

type Character struct {
	Name              string   `yaml:"name"`
	Role              string   `yaml:"role"`
	Background        string   `yaml:"background,omitempty"`
	Motivation        string   `yaml:"motivation,omitempty"`
	CharacterArc      string   `yaml:"character_arc,omitempty"`
	PersonalityTraits []string `yaml:"personality_traits,omitempty"`
	InternalConflict  string   `yaml:"internal_conflict,omitempty"`
	Relationships     []string `yaml:"relationships,omitempty"`
}

type World struct {
	SettingOverview string   `yaml:"setting_overview"`
	KeyLocations    []string `yaml:"key_locations,omitempty"`
	SystemsAndRules []string `yaml:"systems_and_rules,omitempty"`
	SocialContext   []string `yaml:"social_context,omitempty"`
}

// Chapter is one outline entry. Scenes is the current format; KeyEvents is
// the legacy one. At least one of the two must be present for the chapter to
// count as structurally complete.
type Chapter struct {
	Number                int      `yaml:"number"`
	Title                 string   `yaml:"title"`
	POV                   string   `yaml:"pov,omitempty"`
	Act                   string   `yaml:"act,omitempty"`
	Summary               string   `yaml:"summary"`
	Scenes                []string `yaml:"scenes,omitempty"`
	KeyEvents             []string `yaml:"key_events,omitempty"`
	CharacterDevelopments []string `yaml:"character_developments,omitempty"`
	RelationshipBeats     []string `yaml:"relationship_beats,omitempty"`
	TensionPoints         []string `yaml:"tension_points,omitempty"`
	SensoryDetails        []string `yaml:"sensory_details,omitempty"`
	SubplotThreads        []string `yaml:"subplot_threads,omitempty"`
	WordCountTarget       int      `yaml:"word_count_target"`
}

// Outline is the self-contained chapter-outline structure.
type Outline struct {
	Metadata   OutlineMetadata `yaml:"metadata"`
	Characters []Character     `yaml:"characters"`
	World      World           `yaml:"world"`
	Chapters   []Chapter       `yaml:"chapters"`
}

// Foundation is the metadata+characters+world bundle generated once per
// outline run and reused across all chapter batches and variants.
type Foundation struct {
	Metadata   OutlineMetadata `yaml:"metadata"`
	Characters []Character     `yaml:"characters"`
	World      World           `yaml:"world"`
}

// ChapterSummary is the compressed form fed back into later batch prompts
// to bound prompt growth.
type ChapterSummary struct {
	Number  int    `yaml:"number"`
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
}

// Summaries compresses chapters to number/title/summary only.
func Summaries(chapters []Chapter) []ChapterSummary {
	out := make([]ChapterSummary, 0, len(chapters))
	for _, ch := range chapters {
		out = append(out, ChapterSummary{Number: ch.Number, Title: ch.Title, Summary: ch.Summary})
	}
	return out
}
