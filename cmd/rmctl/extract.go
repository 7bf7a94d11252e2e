package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/config"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
	"github.com/fyrsmithlabs/roadmapd/internal/logging"
	"github.com/fyrsmithlabs/roadmapd/internal/memory"
	"github.com/fyrsmithlabs/roadmapd/internal/pipeline"
	"github.com/fyrsmithlabs/roadmapd/internal/run"
	"github.com/fyrsmithlabs/roadmapd/internal/secrets"
	"github.com/fyrsmithlabs/roadmapd/internal/storage"
	"github.com/fyrsmithlabs/roadmapd/internal/worldmodel"
)

// localFlags are shared by commands that open the database directly.
type localFlags struct {
	configPath string
	dbPath     string
	orgID      int64
}

func (f *localFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "database path (overrides config)")
	cmd.Flags().Int64Var(&f.orgID, "org", 0, "organization id")
	_ = cmd.MarkFlagRequired("org")
}

func (f *localFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	return cfg, nil
}

// ExtractOutput is what extract prints.
type ExtractOutput struct {
	Run           *run.Run                    `json:"run"`
	Entities      []extraction.Entity         `json:"entities"`
	Relationships []extraction.Relationship   `json:"relationships"`
	Profile       *worldmodel.BusinessProfile `json:"world_model,omitempty"`
}

func newExtractCmd() *cobra.Command {
	var (
		flags    localFlags
		provider string
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "extract [file...]",
		Short: "Run extraction over files and update the org's world model",
		Long: `Run one extraction batch locally over the given files and merge the
result into the organization's world model.

Examples:
  # Pattern extraction only
  rmctl extract --org 1 --llm none strategy.md okrs.md

  # Use a scratch database
  rmctl extract --org 1 --db /tmp/roadmapd.db notes.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.LLM.Provider = provider
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runExtract(cmd, cfg, flags.orgID, args, verbose)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&provider, "llm", "", "llm provider: none, anthropic or openai (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")
	return cmd
}

func runExtract(cmd *cobra.Command, cfg *config.Config, orgID int64, paths []string, verbose bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	docs := make([]extraction.Document, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", p, err)
		}
		docs = append(docs, extraction.Document{Content: string(content), FilePath: p, Origin: "rmctl"})
	}

	db, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := newLocalService(cfg, db, verbose)
	if err != nil {
		return err
	}

	out, err := svc.Execute(ctx, run.Request{OrgID: orgID, Documents: docs})
	if out != nil && out.Run != nil {
		if werr := writeJSON(cmd.OutOrStdout(), ExtractOutput{
			Run:           out.Run,
			Entities:      nonNil(out.Entities),
			Relationships: nonNil(out.Relationships),
			Profile:       out.Profile,
		}); werr != nil {
			return errors.Join(err, werr)
		}
	}
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	return nil
}

func newLocalService(cfg *config.Config, db *storage.DB, verbose bool) (*run.Service, error) {
	scrubber, err := secrets.New(&secrets.Config{Enabled: cfg.Secrets.Enabled, Rules: secrets.DefaultRules()})
	if err != nil {
		return nil, err
	}
	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	// stdout carries the JSON result, so logs go to stderr when asked for.
	logger := logging.NewNop()
	if verbose {
		z, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logger = logging.Wrap(z)
	}

	orch, err := pipeline.NewFromConfig(cfg.Extraction, cfg.LLM, scrubber, logger.Underlying())
	if err != nil {
		return nil, err
	}
	return run.NewService(run.Deps{
		Orchestrator: orch,
		Runs:         run.NewSQLiteStore(db),
		WorldModels:  worldmodel.NewSQLiteStore(db),
		Memory:       memory.NewSQLiteStore(db),
		LLM:          client,
		Scrubber:     scrubber,
		Logger:       logger,
	})
}

func newWorldModelCmd() *cobra.Command {
	var flags localFlags
	cmd := &cobra.Command{
		Use:   "world-model",
		Short: "Print an organization's world model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := storage.Open(ctx, cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			rec, err := worldmodel.NewSQLiteStore(db).Get(ctx, flags.orgID)
			if errors.Is(err, worldmodel.ErrNotFound) {
				return fmt.Errorf("no world model for org %d", flags.orgID)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	flags.register(cmd)
	return cmd
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
