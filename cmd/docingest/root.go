package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentingestion/internal/pdf"
	"github.com/Lllllllleong/documentingestion/internal/pipeline"
	"github.com/Lllllllleong/documentingestion/internal/services"
)

var (
	verbose    bool
	jsonLogs   bool
	inputPath  string
	flagConfig pipelineFlags
)

var rootCmd = &cobra.Command{
	Use:   "docingest",
	Short: "Evaluate, plan and extract Arabic and English documents",
	Long: `docingest routes a document by the quality of its embedded text layer. Documents
with acceptable text are read locally; the rest are split into page batches and sent to
an OCR engine with bounded concurrency, retries and rate limiting.`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if jsonLogs {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON")
	rootCmd.PersistentFlags().StringVarP(&inputPath, "file", "f", "", "path to a PDF, .txt or .md document (required)")
	_ = rootCmd.MarkPersistentFlagRequired("file")
	flagConfig.register(rootCmd)
}

// pipelineFlags override the environment configuration when set.
type pipelineFlags struct {
	pagesPerBatch int
	overlapPages  int
	maxBatches    int
	autoBatchSize bool
	maxConcurrent int
	retryAttempts int
	rateLimit     string
	markers       string
	noNormalize   bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.IntVar(&f.pagesPerBatch, "pages-per-batch", 20, "pages per batch")
	fs.IntVar(&f.overlapPages, "overlap", 0, "pages repeated between consecutive batches")
	fs.IntVar(&f.maxBatches, "max-batches", 0, "truncate the plan to this many batches (0 = all)")
	fs.BoolVar(&f.autoBatchSize, "auto-batch-size", false, "pick the batch size from the document's size")
	fs.IntVar(&f.maxConcurrent, "max-concurrent", 3, "batches processed at once")
	fs.IntVar(&f.retryAttempts, "retry-attempts", 3, "retries per batch after the first attempt")
	fs.StringVar(&f.rateLimit, "rate-limit", "none", `OCR calls per minute, or "none"`)
	fs.StringVar(&f.markers, "markers", "en", `merge marker language ("en" or "ar")`)
	fs.BoolVar(&f.noNormalize, "no-normalize", false, "keep extracted text as returned")
}

// loadConfig reads the environment configuration and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (pipeline.Config, error) {
	cfg, err := services.LoadPipelineConfig()
	if err != nil {
		return pipeline.Config{}, err
	}
	fs := cmd.Flags()
	if fs.Changed("pages-per-batch") {
		cfg.PagesPerBatch = flagConfig.pagesPerBatch
	}
	if fs.Changed("overlap") {
		cfg.OverlapPages = flagConfig.overlapPages
	}
	if fs.Changed("max-batches") {
		cfg.MaxBatches = flagConfig.maxBatches
	}
	if fs.Changed("auto-batch-size") {
		cfg.AutoBatchSize = flagConfig.autoBatchSize
	}
	if fs.Changed("max-concurrent") {
		cfg.MaxConcurrent = flagConfig.maxConcurrent
	}
	if fs.Changed("retry-attempts") {
		cfg.RetryAttempts = flagConfig.retryAttempts
	}
	if fs.Changed("rate-limit") {
		limit, err := services.ParseRateLimit(flagConfig.rateLimit)
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("%w: --rate-limit: %w", pipeline.ErrInvalidConfig, err)
		}
		cfg.RateLimit = limit
	}
	if fs.Changed("markers") {
		cfg.MarkerLanguage = flagConfig.markers
	}
	if flagConfig.noNormalize {
		cfg.Normalize = false
	}
	return cfg, cfg.Validate()
}

// input is a loaded local document.
type input struct {
	doc  pipeline.Document
	src  *pdf.Source // nil for text documents
	text string      // text layer of a PDF, or the whole text document
}

func (in input) isPDF() bool { return in.src != nil }

func loadInput(path, id string) (input, error) {
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		src, err := pdf.LoadFile(path)
		if err != nil {
			return input{}, err
		}
		text, err := src.Text()
		if err != nil {
			slog.Warn("Failed to read text layer. Treating as scanned.", "error", err)
			text = ""
		}
		return input{doc: src.Document(id, name), src: src, text: text}, nil
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return input{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc := pipeline.Document{ID: id, Name: name, ByteSize: int64(len(data)), MIMEType: "text/plain"}
		return input{doc: doc, text: string(data)}, nil
	}
	return input{}, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}
