package lod

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/config"
	"github.com/vampirenirmal/bookforge/internal/core"
)

// DiffGenerator asks the model for a standard unified diff against full
// chapter context. Long inputs are truncated to a bounded word budget
// before prompting.
type DiffGenerator struct {
	agent  core.Agent
	policy config.Policy
	logger *slog.Logger
}

func NewDiffGenerator(agent core.Agent, policy config.Policy) *DiffGenerator {
	return &DiffGenerator{
		agent:  agent,
		policy: policy,
		logger: slog.Default().With("component", "diff_generator"),
	}
}

const diffSystemPrompt = `You are a precise line editor. Produce a standard unified diff implementing the requested change.
Rules:
- Output ONLY the diff, no commentary and no code fences.
- Use file headers "--- a/chapter" and "+++ b/chapter".
- Use @@ hunk headers with accurate original line numbers.
- Keep hunks minimal: only the lines that change plus up to 3 context lines.`

// GenerateDiff requests a unified diff for the intent against the original
// text. The returned diff has been validated but not applied.
func (g *DiffGenerator) GenerateDiff(ctx context.Context, original string, intent Intent, bookContext string) (string, error) {
	bounded := truncateWords(original, g.policy.PatchWordBudget)

	user := fmt.Sprintf("Requested change: %s\n\nStory context:\n%s\n\nText to edit (with line numbers implied by order):\n%s",
		intent.OriginalFeedback, bookContext, bounded)

	resp, err := g.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: diffSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.3,
		MinResponseTokens: 500,
	})
	if err != nil {
		return "", fmt.Errorf("diff generation call: %w", err)
	}

	diff := book.StripFences(resp.Text)
	if err := ValidateDiff(diff); err != nil {
		return "", err
	}

	g.logger.Debug("diff generated",
		"diff_length", len(diff),
		"original_words", wordCount(original))

	return diff, nil
}

var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ValidateDiff rejects anything that is not a plausible unified diff before
// an apply attempt: both file headers and at least one hunk header are
// required.
func ValidateDiff(diff string) error {
	hasOld, hasNew, hasHunk := false, false, false
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			hasOld = true
		case strings.HasPrefix(line, "+++ "):
			hasNew = true
		case hunkHeaderPattern.MatchString(line):
			hasHunk = true
		}
	}
	if !hasOld || !hasNew {
		return &core.PatchError{Stage: "validate", Cause: fmt.Errorf("missing unified diff file headers")}
	}
	if !hasHunk {
		return &core.PatchError{Stage: "validate", Cause: fmt.Errorf("no @@ hunk headers found")}
	}
	return nil
}

// Hunk is one parsed @@ block of a unified diff.
type Hunk struct {
	OrigStart int
	OrigCount int
	NewStart  int
	NewCount  int
	Lines     []string
}

func parseHunks(diff string) ([]Hunk, error) {
	var hunks []Hunk
	var current *Hunk

	for _, line := range strings.Split(diff, "\n") {
		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil {
			if current != nil {
				hunks = append(hunks, *current)
			}
			origStart, _ := strconv.Atoi(m[1])
			origCount := 1
			if m[2] != "" {
				origCount, _ = strconv.Atoi(m[2])
			}
			newStart, _ := strconv.Atoi(m[3])
			newCount := 1
			if m[4] != "" {
				newCount, _ = strconv.Atoi(m[4])
			}
			current = &Hunk{OrigStart: origStart, OrigCount: origCount, NewStart: newStart, NewCount: newCount}
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			continue
		}
		if line == "" {
			// Blank context line inside a hunk.
			current.Lines = append(current.Lines, " ")
			continue
		}
		switch line[0] {
		case ' ', '-', '+':
			current.Lines = append(current.Lines, line)
		case '\\':
			// "\ No newline at end of file"
		default:
			// Trailing commentary ends the hunk.
			hunks = append(hunks, *current)
			current = nil
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}

	if len(hunks) == 0 {
		return nil, &core.PatchError{Stage: "apply", Cause: fmt.Errorf("no hunks parsed")}
	}
	return hunks, nil
}

// ApplyDiff applies a validated unified diff to the original text. Hunks
// are applied in reverse order, highest original line numbers first, so
// earlier hunks' offsets are never invalidated by later ones.
func ApplyDiff(original, diff string) (string, error) {
	if err := ValidateDiff(diff); err != nil {
		return "", err
	}
	hunks, err := parseHunks(diff)
	if err != nil {
		return "", err
	}

	sort.Slice(hunks, func(i, j int) bool {
		return hunks[i].OrigStart > hunks[j].OrigStart
	})

	lines := strings.Split(original, "\n")

	for _, h := range hunks {
		lines, err = applyHunk(lines, h)
		if err != nil {
			return "", err
		}
	}

	return strings.Join(lines, "\n"), nil
}

func applyHunk(lines []string, h Hunk) ([]string, error) {
	idx := h.OrigStart - 1
	if idx < 0 || idx > len(lines) {
		return nil, &core.PatchError{
			Stage: "apply",
			Cause: fmt.Errorf("hunk start line %d out of range (%d lines)", h.OrigStart, len(lines)),
		}
	}

	var replacement []string
	pos := idx

	for _, hl := range h.Lines {
		marker := hl[0]
		content := hl[1:]
		switch marker {
		case ' ':
			if pos >= len(lines) || !lineMatches(lines[pos], content) {
				return nil, hunkMismatch(h, pos, lines, content)
			}
			replacement = append(replacement, lines[pos])
			pos++
		case '-':
			if pos >= len(lines) || !lineMatches(lines[pos], content) {
				return nil, hunkMismatch(h, pos, lines, content)
			}
			pos++
		case '+':
			replacement = append(replacement, content)
		}
	}

	out := make([]string, 0, len(lines)-(pos-idx)+len(replacement))
	out = append(out, lines[:idx]...)
	out = append(out, replacement...)
	out = append(out, lines[pos:]...)
	return out, nil
}

func lineMatches(got, want string) bool {
	if got == want {
		return true
	}
	return strings.TrimSpace(got) == strings.TrimSpace(want)
}

func hunkMismatch(h Hunk, pos int, lines []string, want string) error {
	got := "<eof>"
	if pos < len(lines) {
		got = lines[pos]
	}
	return &core.PatchError{
		Stage: "apply",
		Cause: fmt.Errorf("hunk at line %d does not match original: want %q, have %q", h.OrigStart, want, got),
	}
}
