package lod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/config"
	"github.com/vampirenirmal/bookforge/internal/core"
)

// Regenerator produces fresh documents when an edit is too large to patch.
// The generation side implements it; keeping it an interface here means the
// coordinator never depends on generation internals.
type Regenerator interface {
	RegeneratePremise(ctx context.Context, guidance string) (SaveResult, error)
	RegenerateTreatment(ctx context.Context, guidance string) (SaveResult, error)
	RegenerateOutline(ctx context.Context, guidance string) (SaveResult, error)
	RegenerateChapter(ctx context.Context, number int, guidance string) (SaveResult, error)
}

// Result is the uniform record every iteration produces, success or not.
type Result struct {
	ID                 string
	Success            bool
	Intent             Intent
	Scale              ScaleDecision
	Changes            []string
	UpdatedFiles       []string
	DeletedFiles       []string
	BackupPath         string
	NeedsClarification bool
	Clarification      string
	Err                error
}

// Coordinator runs one feedback iteration end to end: classify, pick a
// scale, route to the patch or regenerate path, and report what changed.
// Iterations on the same project are serialized; the document hierarchy has
// no transactional story for concurrent edits.
type Coordinator struct {
	project   *book.Project
	analyzer  *IntentAnalyzer
	scales    *ScaleDetector
	contexts  *ContextBuilder
	extractor *Extractor
	patcher   *ProsePatcher
	regen     Regenerator
	agent     core.Agent
	policy    config.Policy
	logger    *slog.Logger

	mu sync.Mutex
}

func NewCoordinator(project *book.Project, analyzer *IntentAnalyzer, scales *ScaleDetector, contexts *ContextBuilder, extractor *Extractor, patcher *ProsePatcher, regen Regenerator, agent core.Agent, policy config.Policy) *Coordinator {
	return &Coordinator{
		project:   project,
		analyzer:  analyzer,
		scales:    scales,
		contexts:  contexts,
		extractor: extractor,
		patcher:   patcher,
		regen:     regen,
		agent:     agent,
		policy:    policy,
		logger:    slog.Default().With("component", "coordinator"),
	}
}

// Process handles one piece of user feedback. It always returns a Result;
// the error return duplicates Result.Err for callers that only care about
// failure.
func (c *Coordinator) Process(ctx context.Context, feedback string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := Result{ID: uuid.NewString()}

	projectContext := c.projectSummary(ctx)
	intent, err := c.analyzer.Analyze(ctx, feedback, projectContext)
	if err != nil {
		result.Err = err
		return result, err
	}
	result.Intent = intent

	if clarification, needed := c.needsClarification(intent); needed {
		result.NeedsClarification = true
		result.Clarification = clarification
		result.Success = true
		c.logger.Info("iteration needs clarification",
			"id", result.ID,
			"intent_type", intent.IntentType,
			"confidence", intent.Confidence)
		return result, nil
	}

	level, err := c.targetLevel(intent)
	if err != nil {
		result.NeedsClarification = true
		result.Clarification = err.Error()
		result.Success = true
		return result, nil
	}

	content, err := c.targetContent(ctx, level, intent.TargetID)
	if err != nil {
		result.Err = err
		return result, err
	}

	decision := c.scales.ResolveScale(ctx, intent, content)
	result.Scale = decision

	c.logger.Info("iteration routed",
		"id", result.ID,
		"level", string(level),
		"scale", decision.Scale,
		"from_model", decision.FromModel)

	switch decision.Scale {
	case ScalePatch:
		err = c.runPatch(ctx, level, intent, content, &result)
	default:
		err = c.runRegenerate(ctx, level, intent, &result)
	}
	if err != nil {
		result.Err = err
		return result, err
	}

	result.Success = true
	return result, nil
}

// needsClarification applies the confidence gate and the intent types that
// never mutate documents.
func (c *Coordinator) needsClarification(intent Intent) (string, bool) {
	if intent.IntentType == "clarify" {
		return "The feedback is ambiguous: " + intent.Description, true
	}
	if intent.IntentType == "analyze" {
		return "This looks like a question rather than an edit: " + intent.Description, true
	}
	if intent.Confidence < c.policy.ConfidenceThreshold {
		return fmt.Sprintf("Low confidence (%.2f) in reading this as %s %s. Can you restate what should change?",
			intent.Confidence, intent.IntentType, intent.TargetType), true
	}
	return "", false
}

// targetLevel maps an intent target onto the document hierarchy. Project-
// wide feedback lands on the premise: the top of the hierarchy, so culling
// cascades through everything below it.
func (c *Coordinator) targetLevel(intent Intent) (Level, error) {
	switch intent.TargetType {
	case "premise":
		return LevelPremise, nil
	case "treatment":
		return LevelTreatment, nil
	case "chapter", "chapters", "taxonomy":
		return LevelOutline, nil
	case "prose":
		return LevelProse, nil
	case "project":
		if intent.IntentType == "regenerate" {
			return LevelPremise, nil
		}
		return "", fmt.Errorf("%w: the request targets the whole project; which level should change: premise, treatment, outline, or a chapter's prose?", core.ErrNeedsClarification)
	default:
		return "", fmt.Errorf("%w: unrecognized target %q", core.ErrNeedsClarification, intent.TargetType)
	}
}

func (c *Coordinator) targetContent(ctx context.Context, level Level, chapter int) (string, error) {
	switch level {
	case LevelPremise:
		if !c.project.HasPremise(ctx) {
			return "", nil
		}
		p, err := c.project.LoadPremise(ctx)
		if err != nil {
			return "", err
		}
		return p.Text, nil
	case LevelTreatment:
		if !c.project.HasTreatment(ctx) {
			return "", nil
		}
		t, err := c.project.LoadTreatment(ctx)
		if err != nil {
			return "", err
		}
		return t.Text, nil
	case LevelOutline:
		if !c.project.HasOutline(ctx) {
			return "", nil
		}
		o, err := c.project.LoadOutline(ctx)
		if err != nil {
			return "", err
		}
		data, err := book.EncodeOutline(o)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case LevelProse:
		if chapter <= 0 || !c.project.HasProse(ctx, chapter) {
			return "", nil
		}
		return c.project.LoadProse(ctx, chapter)
	}
	return "", nil
}

const editSystemPrompt = `You are an editor applying a small, precise change to one document of a book project.
Apply ONLY the requested change; keep everything else verbatim.
Respond with the complete updated document in the same format it was given, nothing else.`

// runPatch applies a surgical edit. Prose goes through the diff-and-backup
// patcher; the structured levels go through a constrained full-document
// edit that re-enters validation and culling via the extractor.
func (c *Coordinator) runPatch(ctx context.Context, level Level, intent Intent, content string, result *Result) error {
	if level == LevelProse {
		if intent.TargetID <= 0 {
			result.NeedsClarification = true
			result.Clarification = "Which chapter's prose should be patched?"
			return nil
		}
		bookContext, err := c.contexts.BuildChapterContext(ctx, intent.TargetID)
		if err != nil {
			return err
		}
		backupPath, err := c.patcher.PatchChapter(ctx, intent.TargetID, intent, bookContext)
		if err != nil {
			return err
		}
		result.BackupPath = backupPath
		result.UpdatedFiles = []string{book.ProsePath(intent.TargetID)}
		result.Changes = []string{fmt.Sprintf("chapter %d prose patched", intent.TargetID)}
		return nil
	}

	if strings.TrimSpace(content) == "" {
		result.NeedsClarification = true
		result.Clarification = fmt.Sprintf("There is no %s yet to patch; generate one first?", level)
		return nil
	}

	bundle, err := c.contexts.Build(ctx, level, false)
	if err != nil {
		return err
	}

	user := fmt.Sprintf("%s\n\n## DOCUMENT TO EDIT (%s)\n\n%s\n\n## REQUESTED CHANGE\n\n%s",
		bundle, level, content, intent.OriginalFeedback)

	resp, err := c.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: editSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.3,
		MinResponseTokens: 1000,
	})
	if err != nil {
		return fmt.Errorf("patch edit call for %s: %w", level, err)
	}

	saved, err := c.extractor.ParseAndSave(ctx, resp.Text, level, false)
	if err != nil {
		return err
	}
	result.UpdatedFiles = saved.UpdatedFiles
	result.DeletedFiles = saved.DeletedFiles
	result.Changes = saved.Changes
	return nil
}

func (c *Coordinator) runRegenerate(ctx context.Context, level Level, intent Intent, result *Result) error {
	guidance := intent.OriginalFeedback

	var (
		saved SaveResult
		err   error
	)
	switch level {
	case LevelPremise:
		saved, err = c.regen.RegeneratePremise(ctx, guidance)
	case LevelTreatment:
		saved, err = c.regen.RegenerateTreatment(ctx, guidance)
	case LevelOutline:
		saved, err = c.regen.RegenerateOutline(ctx, guidance)
	case LevelProse:
		if intent.TargetID <= 0 {
			result.NeedsClarification = true
			result.Clarification = "Which chapter should be regenerated?"
			return nil
		}
		saved, err = c.regen.RegenerateChapter(ctx, intent.TargetID, guidance)
	default:
		return fmt.Errorf("cannot regenerate level %q", level)
	}
	if err != nil {
		return err
	}

	result.UpdatedFiles = saved.UpdatedFiles
	result.DeletedFiles = saved.DeletedFiles
	result.Changes = saved.Changes
	return nil
}

// projectSummary is the cheap orientation blurb given to intent analysis:
// which levels exist and how far prose has progressed.
func (c *Coordinator) projectSummary(ctx context.Context) string {
	var sb strings.Builder

	if c.project.HasPremise(ctx) {
		sb.WriteString("premise: present\n")
	} else {
		sb.WriteString("premise: missing\n")
	}
	if c.project.HasTreatment(ctx) {
		sb.WriteString("treatment: present\n")
	} else {
		sb.WriteString("treatment: missing\n")
	}
	if c.project.HasOutline(ctx) {
		if o, err := c.project.LoadOutline(ctx); err == nil {
			fmt.Fprintf(&sb, "outline: %d chapters\n", len(o.Chapters))
		} else {
			sb.WriteString("outline: present\n")
		}
	} else {
		sb.WriteString("outline: missing\n")
	}
	if numbers, err := c.project.ListProse(ctx); err == nil && len(numbers) > 0 {
		fmt.Fprintf(&sb, "prose: %d chapters written\n", len(numbers))
	} else {
		sb.WriteString("prose: none\n")
	}

	return sb.String()
}
