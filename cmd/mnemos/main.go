// Command mnemos ingests documents into the memory store and answers
// questions over it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kittclouds/mnemos/internal/store"
	"github.com/kittclouds/mnemos/pkg/answer"
	"github.com/kittclouds/mnemos/pkg/config"
	"github.com/kittclouds/mnemos/pkg/embed"
	"github.com/kittclouds/mnemos/pkg/extractor"
	"github.com/kittclouds/mnemos/pkg/ingest"
	"github.com/kittclouds/mnemos/pkg/organizer"
	"github.com/kittclouds/mnemos/pkg/retrieval"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Fatal(err)
	}
}

// app holds the wired services for one invocation.
type app struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	client    *extractor.OpenRouterClient
	embedder  embed.Embedder
	engine    *retrieval.Engine
	logger    *log.Logger
}

func openApp(logger *log.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	st, err := store.NewSQLiteStoreWithDSN(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := extractor.NewOpenRouterClient(extractor.OpenRouterConfig{
		APIKey:  cfg.Extractor.APIKey,
		Model:   cfg.Extractor.Model,
		BaseURL: cfg.Extractor.BaseURL,
	})

	var embedder embed.Embedder
	if cfg.Embedder.APIKey != "" && cfg.Embedder.Model != "" {
		embedder = embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			APIKey:  cfg.Embedder.APIKey,
			Model:   cfg.Embedder.Model,
			BaseURL: cfg.Embedder.BaseURL,
		})
	}

	return &app{
		cfg:      cfg,
		store:    st,
		client:   client,
		embedder: embedder,
		engine:   retrieval.NewEngine(st, embedder),
		logger:   logger,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "err", err)
	}
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "mnemos",
		Short:         "Versioned document ingestion and citation-grounded memory retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newIngestCmd(logger),
		newListCmd(logger),
		newSearchCmd(logger),
		newAskCmd(logger),
		newContextCmd(logger),
		newOrganizeCmd(logger),
		newAliasesCmd(logger),
		newSourcesCmd(logger),
		newExportCmd(logger),
	)
	return root
}

func newIngestCmd(logger *log.Logger) *cobra.Command {
	var externalID, metadata string
	var allowEmpty bool

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Extract atomic memories from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			markdown, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			persister := ingest.NewPersister(a.store, a.embedder, logger)
			orch := ingest.NewOrchestrator(a.store, a.client, persister, logger)

			res, err := orch.Ingest(cmd.Context(), ingest.IngestRequest{
				Filename:         filepath.Base(args[0]),
				Markdown:         string(markdown),
				SourcePath:       args[0],
				ExternalSourceID: externalID,
				Metadata:         metadata,
				AllowEmpty:       allowEmpty,
			})
			if err != nil {
				return err
			}

			if res.ExtractionSkipped {
				fmt.Printf("unchanged, %d memories (version %d)\n", res.ExtractedCount, res.Version)
				return nil
			}
			fmt.Printf("extracted %d memories (version %d, run %s)\n",
				res.ExtractedCount, res.Version, res.ExtractionRunID)
			for _, m := range res.ExtractedMemories {
				fmt.Printf("  [%s] %s\n", m.Kind, m.Statement)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&externalID, "external-id", "", "stable external source identifier")
	cmd.Flags().StringVar(&metadata, "metadata", "", "free-form JSON metadata")
	cmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "allow an extraction that yields zero memories to prune existing ones")
	return cmd
}

func newListCmd(logger *log.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory records, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			memories, err := a.store.ListMemoryRecords(limit)
			if err != nil {
				return err
			}
			for _, m := range memories {
				fmt.Printf("%s  [%s] %s\n", shortID(m.ID), m.Kind, m.Statement)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to list")
	return cmd
}

func newSearchCmd(logger *log.Logger) *cobra.Command {
	var project string
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Hybrid-rank memories against a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			if limit <= 0 {
				limit = a.cfg.Search.DefaultLimit
			}
			citations, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), project, limit)
			if err != nil {
				return err
			}
			for _, c := range citations {
				fmt.Printf("%2d. (%.3f) [%s] %s\n", c.Rank, c.Score, c.Memory.Kind, c.Memory.Statement)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

func newAskCmd(logger *log.Logger) *cobra.Command {
	var project string
	var limit int

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer a question from stored memories, with citations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnswer(cmd.Context(), logger, strings.Join(args, " "), project, limit, false)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum citations")
	return cmd
}

func newContextCmd(logger *log.Logger) *cobra.Command {
	var project string
	var limit int

	cmd := &cobra.Command{
		Use:   "context <task...>",
		Short: "Build a cited working-context brief for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnswer(cmd.Context(), logger, strings.Join(args, " "), project, limit, true)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum citations")
	return cmd
}

func runAnswer(ctx context.Context, logger *log.Logger, query, project string, limit int, asContext bool) error {
	a, err := openApp(logger)
	if err != nil {
		return err
	}
	defer a.close()

	if limit <= 0 {
		limit = a.cfg.Search.DefaultLimit
	}

	var completer answer.Completer
	if a.client.IsConfigured() {
		completer = a.client
	}
	builder := answer.NewBuilder(a.engine, completer, logger)

	var resp *answer.Response
	if asContext {
		resp, err = builder.BuildContext(ctx, query, project, limit)
	} else {
		resp, err = builder.Ask(ctx, query, project, limit)
	}
	if err != nil {
		return err
	}

	fmt.Println(resp.Text)
	if len(resp.Citations) > 0 {
		fmt.Println("\nCitations:")
		fmt.Print(answer.CitationBlock(resp.Citations))
	}
	fmt.Printf("(mode: %s)\n", resp.Mode)
	return nil
}

// organizeFile is the JSON shape the organize command consumes.
type organizeFile struct {
	CategoryAssignments []organizer.CategoryDecision `json:"categoryAssignments"`
	RelatedLinks        []organizer.LinkProposal     `json:"relatedLinks"`
	AliasProposals      []organizer.AliasProposal    `json:"aliasProposals"`
}

func newOrganizeCmd(logger *log.Logger) *cobra.Command {
	var proposeDuplicates bool

	cmd := &cobra.Command{
		Use:   "organize [decisions.json]",
		Short: "Apply organizer category/link decisions and consolidator alias proposals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !proposeDuplicates {
				return fmt.Errorf("nothing to do: pass a decisions file or --propose-duplicates")
			}

			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			svc := organizer.NewService(a.store, logger)

			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var file organizeFile
				if err := json.Unmarshal(data, &file); err != nil {
					return fmt.Errorf("invalid decisions file: %w", err)
				}

				if len(file.CategoryAssignments) > 0 || len(file.RelatedLinks) > 0 {
					applied, err := svc.ApplyOrganizerDecisions(file.CategoryAssignments, file.RelatedLinks, "")
					if err != nil {
						return err
					}
					fmt.Printf("applied %d organizer decisions\n", applied)
				}
				if len(file.AliasProposals) > 0 {
					applied, err := svc.ApplyConsolidatorAliasProposals(file.AliasProposals, organizer.JobTypeConsolidator)
					if err != nil {
						return err
					}
					fmt.Printf("recorded %d alias proposals (review-first)\n", applied)
				}
			}

			if proposeDuplicates {
				applied, err := svc.ProposeFuzzyDuplicateAliases(0)
				if err != nil {
					return err
				}
				fmt.Printf("proposed %d near-duplicate aliases (review-first)\n", applied)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&proposeDuplicates, "propose-duplicates", false, "propose aliases for sources with identical normalized content")
	return cmd
}

func newSourcesCmd(logger *log.Logger) *cobra.Command {
	var limit int
	var deleteID string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List ingested sources, or soft-delete one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			if deleteID != "" {
				if err := a.store.SoftDeleteSource(deleteID, nowMilli()); err != nil {
					return err
				}
				fmt.Printf("soft-deleted %s\n", deleteID)
				return nil
			}

			sources, err := a.store.ListSources(limit)
			if err != nil {
				return err
			}
			for _, src := range sources {
				fmt.Printf("%s  %s\n", src.ID, src.Filename)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sources to list")
	cmd.Flags().StringVar(&deleteID, "delete", "", "soft-delete the source with this id")
	return cmd
}

// sourceExport is the JSON document the export command emits.
type sourceExport struct {
	Source   *store.Source   `json:"source"`
	Version  int             `json:"version"`
	Memories []*memoryExport `json:"memories"`
}

type memoryExport struct {
	Memory   *store.Memory     `json:"memory"`
	Evidence []*store.Evidence `json:"evidence"`
}

func newExportCmd(logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <source-id>",
		Short: "Export a source's extracted memories with evidence as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			src, err := a.store.GetSource(args[0])
			if err != nil {
				return err
			}
			if src == nil {
				return fmt.Errorf("unknown source %s", args[0])
			}

			memories, err := a.store.ListMemoriesBySource(src.ID, store.MemoryKindExtractedAtomic)
			if err != nil {
				return err
			}

			export := &sourceExport{Source: src, Memories: make([]*memoryExport, 0, len(memories))}
			if latest, err := a.store.GetLatestVersion(src.ID); err != nil {
				return err
			} else if latest != nil {
				export.Version = latest.Version
			}

			for _, m := range memories {
				evidence, err := a.store.ListEvidence(m.ID)
				if err != nil {
					return err
				}
				export.Memories = append(export.Memories, &memoryExport{Memory: m, Evidence: evidence})
			}

			out, err := json.MarshalIndent(export, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	return cmd
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func newAliasesCmd(logger *log.Logger) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "List source-alias proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			aliases, err := a.store.ListSourceAliases(activeOnly)
			if err != nil {
				return err
			}
			for _, al := range aliases {
				state := "proposed"
				if al.IsActive {
					state = "active"
				}
				fmt.Printf("%s -> %s  (%.2f, %s) %s\n",
					al.AliasSourceID, al.CanonicalSourceID, al.Confidence, state, al.Reason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only show active aliases")
	return cmd
}
