package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ledgerchat/internal/aggregate"
	"ledgerchat/internal/classify"
	"ledgerchat/internal/config"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/embedding"
	"ledgerchat/internal/learn"
	"ledgerchat/internal/llm"
	"ledgerchat/internal/retrieval"
	"ledgerchat/internal/service"
	"ledgerchat/internal/session"
	"ledgerchat/internal/storage"
	"ledgerchat/internal/vectorstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Query and maintain the local transaction assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(categorizeCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(retrainCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// stack holds the wired pipeline pieces shared by the subcommands.
type stack struct {
	cfg      *config.Config
	db       *sql.DB
	txRepo   *storage.TransactionRepo
	catRepo  *storage.CategoryRepo
	kvRepo   *storage.KVRepo
	vectors  *vectorstore.QdrantStore
	embedder *embedding.Engine

	categoryIDs   map[string]string // lowercased name -> id
	categoryNames map[string]string // id -> name
}

func openStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	vectors, err := vectorstore.NewQdrantStore(cfg.QdrantURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &stack{
		cfg:      cfg,
		db:       db,
		txRepo:   storage.NewTransactionRepo(db),
		catRepo:  storage.NewCategoryRepo(db),
		kvRepo:   storage.NewKVRepo(db),
		vectors:  vectors,
		embedder: embedding.NewEngine(embedding.NewClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.QdrantVectorSize)),
	}
	if err := s.loadCategories(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *stack) Close() {
	_ = s.db.Close()
}

func (s *stack) loadCategories(ctx context.Context) error {
	categories, err := s.catRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	s.categoryIDs = make(map[string]string, len(categories))
	s.categoryNames = make(map[string]string, len(categories))
	for _, cat := range categories {
		s.categoryIDs[strings.ToLower(cat.Name)] = cat.ID
		s.categoryNames[cat.ID] = cat.Name
	}
	return nil
}

// readyEmbedder blocks until the embedding engine finishes initializing.
func (s *stack) readyEmbedder(ctx context.Context) error {
	if err := s.embedder.Initialize(ctx, nil); err != nil {
		return fmt.Errorf("embedding engine: %w", err)
	}
	return nil
}

func askCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			s, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			// Semantic search is optional; degrade to structured retrieval
			// when the local embedding engine is unavailable.
			var embedder embedding.Embedder
			if err := s.readyEmbedder(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "(semantic search unavailable: %v)\n", err)
			} else {
				embedder = s.embedder
			}

			var generator service.Generator
			if gem, err := llm.NewGemini(ctx, s.cfg.GeminiAPIKey, s.cfg.GeminiModel); err != nil {
				fmt.Fprintf(os.Stderr, "(answering offline: %v)\n", err)
			} else {
				generator = gem
			}

			svc := service.NewQueryService(
				classify.NewClassifier(embedder, nil),
				retrieval.NewEngine(s.txRepo, embedder, s.vectors, s.cfg.QdrantCollection, s.categoryIDs, aggregate.ContextBudget),
				aggregate.NewComputer(s.txRepo, s.categoryNames, nil),
				session.NewManager(),
				generator,
				s.categoryNames,
			)

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			resp, err := svc.ProcessQuery(ctx, sessionID, query)
			if err != nil {
				return err
			}

			fmt.Println(resp.Text)
			if len(resp.Citations) > 0 {
				fmt.Println("\nBased on:")
				for _, c := range resp.Citations {
					fmt.Printf("  - %s\n", c.Snippet)
				}
			}
			if len(resp.SuggestedFollowups) > 0 {
				fmt.Println("\nYou could also ask:")
				for _, f := range resp.SuggestedFollowups {
					fmt.Printf("  - %s\n", f)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id for follow-up questions")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Import transactions from a CSV file (date,amount,direction,vendor,category,currency,note)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			reader := csv.NewReader(f)
			reader.FieldsPerRecord = -1

			var imported, line int
			for {
				record, err := reader.Read()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("read csv: %w", err)
				}
				line++
				if line == 1 && strings.EqualFold(record[0], "date") {
					continue // header row
				}

				tx, err := s.parseRecord(ctx, record)
				if err != nil {
					fmt.Fprintf(os.Stderr, "  skipping line %d: %v\n", line, err)
					continue
				}
				if err := s.txRepo.Insert(ctx, tx); err != nil {
					return fmt.Errorf("insert transaction: %w", err)
				}
				imported++
			}

			fmt.Printf("Imported %d transactions. Run 'ledgerctl backfill' to index them.\n", imported)
			return nil
		},
	}
}

func (s *stack) parseRecord(ctx context.Context, record []string) (*domain.Transaction, error) {
	if len(record) < 4 {
		return nil, fmt.Errorf("want at least 4 fields, got %d", len(record))
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(record[0]))
	if err != nil {
		return nil, fmt.Errorf("bad date %q: %w", record[0], err)
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", record[1], err)
	}

	tx := &domain.Transaction{
		ID:     uuid.NewString(),
		Date:   date,
		Amount: amount,
		Vendor: strings.TrimSpace(record[3]),
	}
	switch dir := strings.ToLower(strings.TrimSpace(record[2])); dir {
	case "expense", "income", "":
		tx.Direction = domain.Direction(dir)
	default:
		return nil, fmt.Errorf("bad direction %q", record[2])
	}
	if len(record) > 4 && strings.TrimSpace(record[4]) != "" {
		id, err := s.ensureCategory(ctx, strings.TrimSpace(record[4]))
		if err != nil {
			return nil, err
		}
		tx.CategoryID = id
	}
	tx.Currency = "USD"
	if len(record) > 5 && strings.TrimSpace(record[5]) != "" {
		tx.Currency = strings.ToUpper(strings.TrimSpace(record[5]))
	}
	if len(record) > 6 {
		tx.Note = strings.TrimSpace(record[6])
	}
	return tx, nil
}

// ensureCategory resolves a category by name, creating it on first sight.
func (s *stack) ensureCategory(ctx context.Context, name string) (string, error) {
	if id, ok := s.categoryIDs[strings.ToLower(name)]; ok {
		return id, nil
	}
	cat := &domain.Category{ID: uuid.NewString(), Name: name}
	if err := s.catRepo.Insert(ctx, cat); err != nil {
		return "", fmt.Errorf("create category %q: %w", name, err)
	}
	s.categoryIDs[strings.ToLower(name)] = cat.ID
	s.categoryNames[cat.ID] = cat.Name
	return cat.ID, nil
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Embed and index transactions that are not yet searchable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.vectors.EnsureCollection(ctx, s.cfg.QdrantCollection, s.cfg.QdrantVectorSize); err != nil {
				return fmt.Errorf("ensure collection: %w", err)
			}
			if err := s.readyEmbedder(ctx); err != nil {
				return err
			}

			backfill := embedding.NewBackfill(s.txRepo, s.embedder, s.vectors, s.cfg.QdrantCollection, s.categoryNames)
			n, err := backfill.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Backfilled %d transactions.\n", n)
			return nil
		},
	}
}

// openCategorizer loads the incremental categorizer with the embedder's
// vector size.
func (s *stack) openCategorizer(ctx context.Context) (*learn.Classifier, error) {
	clf := learn.NewClassifier(s.cfg.QdrantVectorSize, s.kvRepo)
	if err := clf.Load(ctx); err != nil {
		return nil, fmt.Errorf("load categorizer: %w", err)
	}
	return clf, nil
}

func categorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categorize [transaction-id] [category]",
		Short: "Teach the local categorizer with a labeled transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			tx, err := s.txRepo.GetByID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("transaction %s: %w", args[0], err)
			}
			if err := s.readyEmbedder(ctx); err != nil {
				return err
			}

			// The label text deliberately excludes any existing category so
			// the model learns from the raw transaction alone.
			vec, err := s.embedder.EmbedText(ctx, embedding.SummaryText(tx, ""))
			if err != nil {
				return fmt.Errorf("embed transaction: %w", err)
			}

			clf, err := s.openCategorizer(ctx)
			if err != nil {
				return err
			}
			class := strings.ToLower(args[1])
			if err := clf.Learn(ctx, learn.Sample{Vector: vec, Class: class}); err != nil {
				return err
			}

			fmt.Printf("Learned: %s -> %s\n", tx.Vendor, class)
			return nil
		},
	}
}

func suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest [transaction-id]",
		Short: "Suggest categories for a transaction using the local categorizer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			tx, err := s.txRepo.GetByID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("transaction %s: %w", args[0], err)
			}
			if err := s.readyEmbedder(ctx); err != nil {
				return err
			}

			vec, err := s.embedder.EmbedText(ctx, embedding.SummaryText(tx, ""))
			if err != nil {
				return fmt.Errorf("embed transaction: %w", err)
			}

			clf, err := s.openCategorizer(ctx)
			if err != nil {
				return err
			}
			preds, err := clf.Predict(vec)
			if err != nil {
				return err
			}
			if len(preds) == 0 {
				fmt.Println("The categorizer has no training data yet. Use 'ledgerctl categorize' first.")
				return nil
			}

			fmt.Printf("Suggestions for %s (%.2f %s):\n", tx.Vendor, tx.AbsAmount(), tx.Currency)
			for _, p := range preds {
				fmt.Printf("  %-20s %.0f%%\n", p.Class, p.Score*100)
			}
			return nil
		},
	}
}

func retrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Rebuild the local categorizer from all stored labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			clf, err := s.openCategorizer(ctx)
			if err != nil {
				return err
			}
			if err := clf.Retrain(ctx); err != nil {
				return err
			}
			fmt.Println("Categorizer retrained.")
			return nil
		},
	}
}
