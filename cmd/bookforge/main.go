package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vampirenirmal/bookforge/internal/agent"
	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/config"
	"github.com/vampirenirmal/bookforge/internal/generate"
	"github.com/vampirenirmal/bookforge/internal/lod"
	"github.com/vampirenirmal/bookforge/internal/storage"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("BOOKFORGE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	app := buildApp(cfg)

	ctx := context.Background()
	if cfg.Limits.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Limits.TotalTimeout)
		defer cancel()
	}

	args := os.Args[1:]
	if len(args) == 0 {
		runREPL(ctx, app)
		return
	}

	if err := runCommand(ctx, app, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	project     *book.Project
	generator   *generate.Generator
	coordinator *lod.Coordinator
}

func buildApp(cfg *config.Config) *app {
	client := agent.NewClient(cfg.AI.APIKey,
		agent.WithAPIConfig(cfg.AI.BaseURL, cfg.AI.Model),
		agent.WithRetry(cfg.Limits.MaxRetries),
		agent.WithTimeout(time.Duration(cfg.AI.Timeout)*time.Second),
		agent.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize),
	)

	store := storage.NewFileSystem(cfg.Paths.ProjectDir)
	project := book.NewProject(store)
	contexts := lod.NewContextBuilder(project)
	culls := lod.NewCullManager(project)
	extractor := lod.NewExtractor(project, culls)
	generator := generate.NewGenerator(client, project, contexts, extractor, cfg.Policy)

	coordinator := lod.NewCoordinator(
		project,
		lod.NewIntentAnalyzer(client),
		lod.NewScaleDetector(client, cfg.Policy),
		contexts,
		extractor,
		lod.NewProsePatcher(project, lod.NewDiffGenerator(client, cfg.Policy)),
		generator,
		client,
		cfg.Policy,
	)

	return &app{project: project, generator: generator, coordinator: coordinator}
}

func runCommand(ctx context.Context, a *app, args []string) error {
	switch args[0] {
	case "premise":
		result, err := a.generator.RegeneratePremise(ctx, strings.Join(args[1:], " "))
		printSave(result, err)
		return err
	case "treatment":
		result, err := a.generator.RegenerateTreatment(ctx, strings.Join(args[1:], " "))
		printSave(result, err)
		return err
	case "outline":
		result, err := a.generator.RegenerateOutline(ctx, strings.Join(args[1:], " "))
		printSave(result, err)
		return err
	case "variants":
		count := 0
		if outline, err := a.project.LoadOutline(ctx); err == nil {
			count = len(outline.Chapters)
		}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("chapter count %q is not a number", args[1])
			}
			count = n
		}
		if count == 0 {
			return fmt.Errorf("no existing outline; pass a chapter count: bookforge variants <n>")
		}
		result, err := a.generator.Outlines().GenerateVariants(ctx, count, strings.Join(args[2:], " "))
		printSave(result, err)
		return err
	case "resume":
		result, err := a.generator.Outlines().Resume(ctx)
		printSave(result, err)
		return err
	case "chapter":
		if len(args) < 2 {
			return fmt.Errorf("usage: bookforge chapter <number> [guidance]")
		}
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("chapter number %q is not a number", args[1])
		}
		result, err := a.generator.RegenerateChapter(ctx, number, strings.Join(args[2:], " "))
		printSave(result, err)
		return err
	case "feedback":
		if len(args) < 2 {
			return fmt.Errorf("usage: bookforge feedback \"<what to change>\"")
		}
		return processFeedback(ctx, a, strings.Join(args[1:], " "))
	case "status":
		printStatus(ctx, a.project)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// runREPL reads feedback lines from stdin and runs one iteration per line.
func runREPL(ctx context.Context, a *app) {
	fmt.Println("bookforge — type feedback about your book, or /status, /quit")
	printStatus(ctx, a.project)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return
		case line == "/status":
			printStatus(ctx, a.project)
			continue
		}
		if err := processFeedback(ctx, a, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func processFeedback(ctx context.Context, a *app, feedback string) error {
	result, err := a.coordinator.Process(ctx, feedback)
	if err != nil {
		return err
	}

	if result.NeedsClarification {
		fmt.Printf("? %s\n", result.Clarification)
		return nil
	}

	fmt.Printf("applied as %s (%s/%s", result.Scale.Scale, result.Intent.IntentType, result.Intent.TargetType)
	if result.Intent.TargetID > 0 {
		fmt.Printf(" %d", result.Intent.TargetID)
	}
	fmt.Println(")")
	for _, change := range result.Changes {
		fmt.Printf("  %s\n", change)
	}
	for _, path := range result.DeletedFiles {
		fmt.Printf("  deleted %s\n", path)
	}
	if result.BackupPath != "" {
		fmt.Printf("  backup at %s\n", result.BackupPath)
	}
	return nil
}

func printSave(result lod.SaveResult, err error) {
	if err != nil {
		return
	}
	for _, change := range result.Changes {
		fmt.Printf("  %s\n", change)
	}
	for _, path := range result.DeletedFiles {
		fmt.Printf("  deleted %s\n", path)
	}
}

func printStatus(ctx context.Context, project *book.Project) {
	has := func(ok bool) string {
		if ok {
			return "present"
		}
		return "missing"
	}
	fmt.Printf("premise:   %s\n", has(project.HasPremise(ctx)))
	fmt.Printf("treatment: %s\n", has(project.HasTreatment(ctx)))
	if project.HasOutline(ctx) {
		if outline, err := project.LoadOutline(ctx); err == nil {
			fmt.Printf("outline:   %d chapters\n", len(outline.Chapters))
		} else {
			fmt.Println("outline:   present")
		}
	} else {
		fmt.Println("outline:   missing")
	}
	if numbers, err := project.ListProse(ctx); err == nil {
		fmt.Printf("prose:     %d chapters written\n", len(numbers))
	}
}

func printUsage() {
	fmt.Println(`Usage: bookforge [command]

Commands:
  (none)                start the interactive feedback loop
  premise [guidance]    generate or regenerate the premise
  treatment [guidance]  generate or regenerate the treatment
  outline [guidance]    generate or regenerate the chapter outline
  variants <n> [guid.]  generate outline variants and commit the best
  resume                continue an interrupted outline run
  chapter <n> [guid.]   write or rewrite one chapter's prose
  feedback "<text>"     apply one piece of editorial feedback
  status                show which documents exist`)
}
