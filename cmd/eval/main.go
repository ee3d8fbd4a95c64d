// Command eval scores the engine against a golden dataset using four
// LLM-judge metrics (faithfulness, relevance, context precision, answer
// correctness).
//
// Usage:
//
//	eval --dataset ./evaluation/gold_dataset.json \
//	  --chat-provider groq --chat-model llama-3.3-70b-versatile \
//	  --output report.json
//
// The judge defaults to the chat provider; pass --judge-provider to score
// with a different model than the one generating answers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	nexus "github.com/brunobiangulo/nexus"
	"github.com/brunobiangulo/nexus/eval"
	"github.com/brunobiangulo/nexus/llm"
)

func main() {
	var (
		datasetPath   = flag.String("dataset", "", "Path to golden dataset (.json or .xlsx)")
		dbPath        = flag.String("db", "", "Path to SQLite database (default: temp file)")
		sessionID     = flag.String("session", "eval", "Session for graph state built during the run")
		chatProvider  = flag.String("chat-provider", "groq", "Chat LLM provider")
		chatModel     = flag.String("chat-model", "llama-3.3-70b-versatile", "Chat model name")
		chatAPIKey    = flag.String("chat-api-key", "", "Chat provider API key (default: from env)")
		judgeProvider = flag.String("judge-provider", "", "Judge LLM provider (default: same as chat)")
		judgeModel    = flag.String("judge-model", "", "Judge model name")
		judgeAPIKey   = flag.String("judge-api-key", "", "Judge provider API key (default: from env)")
		searchAPIKey  = flag.String("search-api-key", "", "Web search API key (default: $TAVILY_API_KEY)")
		outputPath    = flag.String("output", "eval_report.json", "Path for the JSON report (.xlsx also supported)")
		concurrency   = flag.Int("concurrency", 2, "Questions evaluated in parallel")
		verbose       = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *datasetPath == "" {
		log.Fatal("--dataset is required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	questions, err := eval.LoadDataset(*datasetPath)
	if err != nil {
		log.Fatalf("loading dataset: %v", err)
	}
	slog.Info("eval: dataset loaded", "questions", len(questions))

	cfg := nexus.DefaultConfig()
	cfg.Chat.Provider = *chatProvider
	cfg.Chat.Model = *chatModel
	cfg.Chat.APIKey = *chatAPIKey
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = keyFromEnv(*chatProvider)
	}
	cfg.Search.APIKey = *searchAPIKey
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	} else {
		dir, err := os.MkdirTemp("", "nexus-eval-")
		if err != nil {
			log.Fatalf("creating temp dir: %v", err)
		}
		defer os.RemoveAll(dir)
		cfg.DBPath = filepath.Join(dir, "eval.db")
	}

	engine, err := nexus.New(cfg)
	if err != nil {
		log.Fatalf("starting engine: %v", err)
	}
	defer engine.Close()

	judgeCfg := cfg.Chat
	if *judgeProvider != "" {
		judgeCfg = llm.Config{
			Provider: *judgeProvider,
			Model:    *judgeModel,
			APIKey:   *judgeAPIKey,
		}
		if judgeCfg.APIKey == "" {
			judgeCfg.APIKey = keyFromEnv(*judgeProvider)
		}
	}
	judge, err := llm.NewProvider(judgeCfg)
	if err != nil {
		log.Fatalf("creating judge provider: %v", err)
	}

	answer := func(ctx context.Context, question string) (string, string, error) {
		res, err := engine.Run(ctx, nexus.RunRequest{Query: question, SessionID: *sessionID})
		if err != nil {
			return "", "", err
		}
		if res.Status == nexus.StatusFailed {
			return "", "", fmt.Errorf("run failed: %s", res.Error)
		}
		sub, err := engine.Subgraph(ctx, *sessionID, res.ID)
		if err != nil {
			return res.Analysis, "", nil
		}
		var parts []string
		for _, n := range sub.Nodes {
			parts = append(parts, fmt.Sprintf("%s (%s)", n.DisplayName, n.EntityType))
		}
		return res.Analysis, strings.Join(parts, ", "), nil
	}

	runner := eval.NewRunner(eval.NewScorer(judge, judgeCfg.Model), answer, *concurrency)
	report, err := runner.Run(context.Background(), questions)
	if err != nil {
		log.Fatalf("evaluation: %v", err)
	}

	switch strings.ToLower(filepath.Ext(*outputPath)) {
	case ".xlsx":
		err = report.WriteXLSX(*outputPath)
	default:
		err = report.WriteJSON(*outputPath)
	}
	if err != nil {
		log.Fatalf("writing report: %v", err)
	}

	fmt.Print(report.Format())
	fmt.Printf("\nreport written to %s\n", *outputPath)
}

func keyFromEnv(provider string) string {
	switch provider {
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	}
	return ""
}
