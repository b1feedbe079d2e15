package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentingestion/internal/gcp"
	"github.com/Lllllllleong/documentingestion/internal/ocr"
	"github.com/Lllllllleong/documentingestion/internal/pdf"
	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

var (
	extractEngine    string
	extractOutput    string
	extractLanguages []string
	extractForceOCR  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a document's text, using OCR where the text layer is unusable",
	Long: `extract evaluates the document's text layer and either returns it directly or runs
the batch OCR pipeline. The merged text goes to --output or stdout. Failed batches are
marked in place and make the command exit non-zero.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractEngine, "engine", "e", "vertex", `OCR engine: "vertex" (Gemini on Vertex AI) or "tesseract" (local)`)
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "write merged text to this file instead of stdout")
	extractCmd.Flags().StringSliceVar(&extractLanguages, "lang", ocr.DefaultLanguages, "tesseract languages")
	extractCmd.Flags().BoolVar(&extractForceOCR, "force-ocr", false, "skip the text layer and always OCR")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	in, err := loadInput(inputPath, uuid.NewString())
	if err != nil {
		return err
	}

	extractor, closeFn, err := newExtractor(ctx, in)
	if err != nil {
		return err
	}
	defer closeFn()

	progress := &batchProgress{}
	p, err := pipeline.New(extractor, nil, cfg,
		pipeline.WithLogger(slog.Default().With("file", in.doc.Name)),
		pipeline.WithProgressFunc(progress.handle),
	)
	if err != nil {
		return err
	}

	var res *pipeline.Result
	switch {
	case !in.isPDF():
		res, err = p.RunText(ctx, in.doc, in.text)
	case extractForceOCR:
		res, err = p.Run(ctx, in.doc, "")
	default:
		res, err = p.Run(ctx, in.doc, in.text)
	}
	progress.finish()
	if res == nil {
		return err
	}

	if werr := writeOutput(res.Merged.Text); werr != nil {
		return werr
	}
	printSummary(cmd, res)

	if err != nil {
		return err
	}
	if res.Merged.Status != pipeline.StatusCompleted {
		return fmt.Errorf("%d of %d batches failed: %v", res.Merged.FailedCount(), len(res.Plan), res.Merged.FailedBatches)
	}
	return nil
}

// newExtractor builds the OCR engine selected by --engine.
func newExtractor(ctx context.Context, in input) (pipeline.BatchExtractor, func(), error) {
	switch extractEngine {
	case "tesseract":
		if !in.isPDF() {
			return nil, nil, errors.New("the tesseract engine only reads PDFs")
		}
		return ocr.NewTesseractExtractor(in.src, extractLanguages...), func() {}, nil

	case "vertex":
		projectID := gcp.GetEnv("PROJECT_ID", "")
		if projectID == "" {
			return nil, nil, errors.New("PROJECT_ID must be set for the vertex engine")
		}
		client, err := gcp.NewVertexClient(ctx, projectID, gcp.GetEnv("VERTEX_AI_REGION", "us-central1"), gcp.GetEnv("VERTEX_MODEL", gcp.DefaultOCRModel))
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Warn("Failed to close Vertex AI client.", "error", err)
			}
		}
		if !in.isPDF() {
			return gcp.NewVertexTextExtractor(client), closeFn, nil
		}
		return pdf.PageRangeExtractor{Source: in.src, Next: gcp.NewVertexExtractor(client)}, closeFn, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown engine %q", pipeline.ErrInvalidConfig, extractEngine)
}

func writeOutput(text string) error {
	if extractOutput == "" {
		_, err := fmt.Fprintln(os.Stdout, text)
		return err
	}
	if err := os.WriteFile(extractOutput, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", extractOutput, err)
	}
	return nil
}

func printSummary(cmd *cobra.Command, res *pipeline.Result) {
	out := cmd.ErrOrStderr()
	if res.Quality.Reason != "" {
		fmt.Fprintf(out, "Route: %s (%s)\n", res.Route, res.Quality.Reason)
	} else {
		fmt.Fprintf(out, "Route: %s\n", res.Route)
	}
	if res.Route == pipeline.RouteLocal {
		return
	}
	fmt.Fprintf(out, "Status: %s, %d batches succeeded, %d failed, %s\n",
		res.Merged.Status, res.Merged.SuccessfulBatches, res.Merged.FailedCount(), res.Merged.TotalProcessingTime)
	for _, r := range res.Merged.FailedRanges {
		fmt.Fprintf(out, "  missing pages %d-%d\n", r.Start, r.End)
	}
}
