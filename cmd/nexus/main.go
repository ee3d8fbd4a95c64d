// Command nexus runs learning queries against a session knowledge graph.
//
// Ask a question (researches the web, grows the graph, teaches a lesson):
//
//	nexus --session demo "Explain photosynthesis"
//
// Learn from a PDF instead of web research:
//
//	nexus --session demo --pdf ./notes.pdf "Explain chapter 3"
//
// Inspect a session:
//
//	nexus --session demo --history
//	nexus --session demo --graph
//	nexus --session demo --clear
//	nexus --forget <lesson-id>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	nexus "github.com/brunobiangulo/nexus"
	"github.com/brunobiangulo/nexus/document"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		dbPath       = flag.String("db", "", "Path to SQLite database (overrides config)")
		sessionID    = flag.String("session", "default", "Session to operate on")
		pdfPath      = flag.String("pdf", "", "Learn from this PDF instead of web research")
		chatProvider = flag.String("chat-provider", "", "Chat LLM provider (overrides config)")
		chatModel    = flag.String("chat-model", "", "Chat model name (overrides config)")
		chatAPIKey   = flag.String("chat-api-key", "", "Chat provider API key (default: from env)")
		searchAPIKey = flag.String("search-api-key", "", "Web search API key (default: $TAVILY_API_KEY)")
		showHistory  = flag.Bool("history", false, "Print the session's lesson history and exit")
		showGraph    = flag.Bool("graph", false, "Print the session's graph as JSON and exit")
		clearGraph   = flag.Bool("clear", false, "Delete the session's graph and exit")
		forgetLesson = flag.String("forget", "", "Delete one lesson from history by ID and exit")
		verbose      = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := nexus.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = nexus.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *chatProvider != "" {
		cfg.Chat.Provider = *chatProvider
	}
	if *chatModel != "" {
		cfg.Chat.Model = *chatModel
	}
	if *chatAPIKey != "" {
		cfg.Chat.APIKey = *chatAPIKey
	}
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = chatKeyFromEnv(cfg.Chat.Provider)
	}
	if *searchAPIKey != "" {
		cfg.Search.APIKey = *searchAPIKey
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("TAVILY_API_KEY")
	}

	engine, err := nexus.New(cfg)
	if err != nil {
		log.Fatalf("starting engine: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()

	switch {
	case *clearGraph:
		if err := engine.ClearSession(ctx, *sessionID); err != nil {
			log.Fatalf("clearing session: %v", err)
		}
		fmt.Printf("session %s graph cleared\n", *sessionID)
		return
	case *forgetLesson != "":
		if err := engine.DeleteLesson(ctx, *forgetLesson); err != nil {
			log.Fatalf("deleting lesson: %v", err)
		}
		fmt.Printf("lesson %s deleted\n", *forgetLesson)
		return
	case *showHistory:
		printHistory(ctx, engine, *sessionID)
		return
	case *showGraph:
		printGraph(ctx, engine, *sessionID)
		return
	}

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		log.Fatal("usage: nexus [flags] <learning query>")
	}

	req := nexus.RunRequest{Query: query, SessionID: *sessionID}
	if *pdfPath != "" {
		text, err := (document.PDF{}).ExtractText(ctx, *pdfPath)
		if err != nil {
			log.Fatalf("reading %s: %v", *pdfPath, err)
		}
		req.SourceText = text
	}

	result, err := engine.Run(ctx, req)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	for _, step := range result.Steps {
		fmt.Fprintf(os.Stderr, "[%d] %s/%s: %s\n", step.Step, step.Agent, step.Action, step.Details)
	}

	if result.Status == nexus.StatusFailed {
		log.Fatalf("lesson failed: %s", result.Error)
	}

	fmt.Println(result.Analysis)
	fmt.Fprintf(os.Stderr, "\nlesson %s: +%d entities, +%d relationships\n",
		result.ID, result.EntitiesAdded, result.EdgesAdded)
}

func chatKeyFromEnv(provider string) string {
	if key := os.Getenv("NEXUS_CHAT_API_KEY"); key != "" {
		return key
	}
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

func printHistory(ctx context.Context, engine *nexus.Engine, sessionID string) {
	lessons, err := engine.Lessons(ctx, sessionID)
	if err != nil {
		log.Fatalf("listing lessons: %v", err)
	}
	if len(lessons) == 0 {
		fmt.Printf("no lessons in session %s\n", sessionID)
		return
	}
	for _, l := range lessons {
		fmt.Printf("%s  %s  [%s]  %s  (+%d entities, +%d edges)\n",
			l.ID, l.CreatedAt, l.Status, l.Query, l.EntityCount, l.EdgeCount)
	}
}

func printGraph(ctx context.Context, engine *nexus.Engine, sessionID string) {
	sub, err := engine.Subgraph(ctx, sessionID, "")
	if err != nil {
		log.Fatalf("querying graph: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sub); err != nil {
		log.Fatalf("encoding graph: %v", err)
	}
}
