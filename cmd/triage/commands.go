package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/disposal-triage/internal/adapters"
	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/auth"
	"github.com/ZanzyTHEbar/disposal-triage/internal/config"
	"github.com/ZanzyTHEbar/disposal-triage/internal/monitoring"
	"github.com/ZanzyTHEbar/disposal-triage/internal/privacy"
	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/ZanzyTHEbar/disposal-triage/internal/uploads"
	"github.com/spf13/cobra"
)

var errNoSecret = errors.New("JWT_SECRET is not set")

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "triage",
		Short:         "Disposal triage engine: RECYCLE, REPAIR, REUSE or RETAIN",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newLexiconCmd(),
		newTokenCmd(),
		newMigrateCmd(),
		newPurgeCmd(),
	)
	return rootCmd
}

func newAnalyzeCmd() *cobra.Command {
	var asJSON, strict bool
	var imagePath string

	cmd := &cobra.Command{
		Use:   "analyze [submission.json|-]",
		Short: "Analyze a label to value JSON object",
		Long: `Analyze a questionnaire given as a JSON object of field label to value.

The photo passed with --image is classified only when HUGGINGFACE_API_KEY is set.

Example: triage analyze kettle.json --image kettle.jpg --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cfg, args[0], imagePath, strict || cfg.Analysis.StrictKeywords, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "Match keyword phrases on word boundaries only")
	cmd.Flags().StringVar(&imagePath, "image", "", "Product photo to classify")
	return cmd
}

func runAnalyze(ctx context.Context, in io.Reader, out io.Writer, cfg *config.Config, source, imagePath string, strict, asJSON bool) error {
	subject, err := readSubject(in, source)
	if err != nil {
		return err
	}

	opts := []analysis.Option{
		analysis.WithStrictMatching(strict),
		analysis.WithLogger(monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel)).Logger),
	}
	if imagePath != "" {
		subject[analysis.LabelsImage[0]] = imagePath
		classifier := adapters.NewHuggingFaceAdapter(cfg.Classifier.APIKey, adapters.WithModelURL(cfg.Classifier.ModelURL))
		defer classifier.Close()
		opts = append(opts, analysis.WithImageClassifier(classifier, fileLoader{limit: cfg.Uploads.MaxBytes}))
	}

	result, err := analysis.NewAnalyzer(opts...).Analyze(ctx, subject)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printResult(out, result)
}

func readSubject(in io.Reader, source string) (analysis.Submission, error) {
	var raw []byte
	var err error
	if source == "-" {
		raw, err = io.ReadAll(in)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}

	var subject analysis.Submission
	if err := json.Unmarshal(raw, &subject); err != nil {
		return nil, fmt.Errorf("submission must be a JSON object: %w", err)
	}
	if subject == nil {
		subject = analysis.Submission{}
	}
	return subject, nil
}

func printResult(out io.Writer, result analysis.AnalysisResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Recommendation:\t%s\n", result.Recommendation.Label())
	fmt.Fprintf(w, "Confidence:\t%.2f\n", result.Confidence)
	fmt.Fprintf(w, "Scores:\t%s\n", result.Scores)
	fmt.Fprintf(w, "Summary:\t%s\n", result.Analysis)
	if result.Reasoning != "" {
		fmt.Fprintf(w, "Reasoning:\t%s\n", result.Reasoning)
	}
	for _, c := range result.Classifications {
		fmt.Fprintf(w, "Image:\t%s (%.2f)\n", c.Label, c.Confidence)
	}
	return w.Flush()
}

// fileLoader reads --image straight from disk
type fileLoader struct {
	limit int64
}

func (l fileLoader) Load(_ context.Context, ref string) ([]byte, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return nil, err
	}
	if l.limit > 0 && info.Size() > l.limit {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", filepath.Base(ref), info.Size(), l.limit)
	}
	return os.ReadFile(ref)
}

func newLexiconCmd() *cobra.Command {
	var category string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lexicon",
		Short: "List the keyword phrases used by the text analyzer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLexicon(cmd.OutOrStdout(), category, asJSON)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only show one category (recycle, repair, reuse, retain)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func runLexicon(out io.Writer, category string, asJSON bool) error {
	entries := analysis.DefaultLexicon().Entries()
	if category != "" {
		c, err := analysis.ParseCategory(category)
		if err != nil {
			return err
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Category == c {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tSUBCATEGORY\tWEIGHT\tPHRASE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.Category.Label(), e.Subcategory, e.Weight, e.Phrase)
	}
	return w.Flush()
}

func newTokenCmd() *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runToken(cmd.OutOrStdout(), cfg.Auth, reviewer)
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", auth.RoleAdmin, "Name recorded on decisions made with the token")
	return cmd
}

func runToken(out io.Writer, cfg config.AuthConfig, reviewer string) error {
	if cfg.JWTSecret == "" {
		return errNoSecret
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		reviewer = auth.RoleAdmin
	}

	token, err := auth.NewService(cfg.JWTSecret, cfg.AdminPassword, cfg.TokenTTL).GenerateToken(reviewer)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func openDB(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	dbCfg := store.DefaultConfig(cfg.Server.DataDir)
	dbCfg.Driver = cfg.Database.Driver
	dbCfg.DSN = cfg.Database.URL
	return store.Open(ctx, dbCfg)
}

func runMigrate(ctx context.Context, out io.Writer, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Database migrated (%s)\n", cfg.Database.Driver)
	return err
}

func newPurgeCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Erase submissions and photos older than the retention period",
		Long: `Erase every submission older than --days (default RETENTION_DAYS) together
with its answers, recommendation and stored photo.

Example: triage purge --days 90`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("days") {
				cfg.Privacy.RetentionDays = days
			}
			return runPurge(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention period in days")
	return cmd
}

func runPurge(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if cfg.Privacy.RetentionDays <= 0 {
		return errors.New("retention is disabled, set RETENTION_DAYS or --days")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var images privacy.ImageStore
	if cfg.Uploads.S3Bucket != "" {
		images, err = uploads.NewS3(ctx, cfg.Uploads.S3Region, cfg.Uploads.S3Bucket, cfg.Uploads.S3Prefix)
	} else {
		images, err = uploads.NewLocal(cfg.Uploads.Dir)
	}
	if err != nil {
		return err
	}

	n, err := privacy.NewService(store.NewRepository(db), images, cfg.Privacy.Retention()).PurgeExpired(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Erased %d submission(s) older than %d days\n", n, cfg.Privacy.RetentionDays)
	return err
}
