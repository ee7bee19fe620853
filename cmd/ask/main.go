// Command ask is a thin demo CLI over the analytical query engine: it
// wires a Postgres or SQLite adapter, an LLM gateway, and optional vector
// memory into one request.Engine and runs a single question to
// completion, printing the synthesized answer and its focused tables.
// Styled after the teacher's cmd/e2e_test/main.go (ANSI section headers,
// flag-based config).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"analyticalquery/internal/adapter"
	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/request"
	"analyticalquery/internal/llm"
	"analyticalquery/internal/logger"
)

const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	dim   = "\033[2m"
)

// demoConfig is environment-driven connection configuration for the demo
// CLI. It never influences engine semantics — only which collaborators
// are wired in.
type demoConfig struct {
	DBKind    string `env:"ASK_DB_KIND" env-default:"sqlite"` // "postgres" | "sqlite"
	DBHost    string `env:"ASK_DB_HOST" env-default:"localhost"`
	DBPort    int    `env:"ASK_DB_PORT" env-default:"5432"`
	DBName    string `env:"ASK_DB_NAME" env-default:"analytics"`
	DBUser    string `env:"ASK_DB_USER" env-default:"postgres"`
	DBPass    string `env:"ASK_DB_PASSWORD"`
	SQLiteDSN string `env:"ASK_SQLITE_PATH" env-default:"demo.db"`

	WorkspaceID string `env:"ASK_WORKSPACE_ID" env-default:"default"`
}

// promptQuestion falls back to an interactive prompt when -question is
// omitted, the way the teacher's interactive_huh.go collects free-form
// input from a terminal user instead of a flag.
func promptQuestion() (string, error) {
	var question string
	field := huh.NewText().
		Title("What would you like to know?").
		Value(&question)
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(question), nil
}

func header(title string) {
	line := strings.Repeat("━", 60)
	fmt.Printf("\n%s%s%s\n", cyan+bold, line, reset)
	fmt.Printf("%s  %s%s\n", cyan+bold, title, reset)
	fmt.Printf("%s%s%s\n\n", cyan+bold, line, reset)
}

func main() {
	question := flag.String("question", "", "natural language question to ask")
	sessionID := flag.String("session", "", "session id for memory continuity (generated if omitted)")
	llmConfigPath := flag.String("llm-config", "llm_config.json", "path to LLM config JSON")
	deadline := flag.Duration("deadline", 60*time.Second, "request deadline")
	flag.Parse()

	if *question == "" {
		answer, err := promptQuestion()
		if err != nil {
			log.Fatalf("failed to read question: %v", err)
		}
		*question = answer
	}
	if *question == "" {
		log.Fatal("missing required -question flag")
	}

	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}

	_ = godotenv.Load()

	var cfg demoConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load environment config: %v", err)
	}

	llmConfig, err := llm.LoadConfig(*llmConfigPath)
	if err != nil {
		log.Fatalf("failed to load LLM config: %v", err)
	}
	gateway, err := llm.New(*llmConfig)
	if err != nil {
		log.Fatalf("failed to create LLM gateway: %v", err)
	}

	ctx := context.Background()

	svc, err := connectAdapter(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	progressLog := logger.New()
	engine := request.New(cfg.WorkspaceID, gateway, svc, svc, nil, nil, progressLog, request.Config{})

	header("Analytical Query Engine")
	fmt.Printf("%sQuestion:%s %s\n", dim, reset, *question)

	answer, err := engine.ProcessQuestion(ctx, *sessionID, *question, *deadline)
	if err != nil {
		progressLog.Warn("request failed: %v", err)
		os.Exit(1)
	}

	printAnswer(answer)
}

// dbAdapter is the combined surface request.New expects for both its
// SQLExecutionService and SchemaIntrospector arguments; every concrete
// adapter in internal/adapter satisfies it over its own pooled
// connection.
type dbAdapter interface {
	ports.SQLExecutionService
	ports.SchemaIntrospector
}

func connectAdapter(ctx context.Context, cfg demoConfig) (dbAdapter, error) {
	switch cfg.DBKind {
	case "postgres":
		return adapter.New(ctx, adapter.Config{
			Type:     adapter.Postgres,
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			Database: cfg.DBName,
			User:     cfg.DBUser,
			Password: cfg.DBPass,
		})
	case "sqlite", "":
		return adapter.NewSQLiteAdapter(ctx, cfg.SQLiteDSN)
	default:
		return nil, fmt.Errorf("unsupported ASK_DB_KIND %q", cfg.DBKind)
	}
}

func printAnswer(answer model.Answer) {
	header("Answer")

	if answer.NoAnswer {
		fmt.Printf("%s\n\nSuggestion: %s\n", answer.NoAnswerReason, answer.NoAnswerRephrase)
		return
	}

	fmt.Println(answer.Narrative)

	for _, table := range answer.Tables {
		fmt.Printf("\n%s%s%s\n", bold, table.Title, reset)
		w := tablewriter.NewWriter(os.Stdout)
		headerCells := make([]any, len(table.Columns))
		for i, c := range table.Columns {
			headerCells[i] = c
		}
		w.Header(headerCells...)
		for _, row := range table.Rows {
			cells := make([]any, len(row))
			copy(cells, row)
			_ = w.Append(cells...)
		}
		_ = w.Render()
	}

	if answer.Truncated {
		fmt.Printf("\n%s(answer may be incomplete: request deadline elapsed)%s\n", dim, reset)
	}
}
