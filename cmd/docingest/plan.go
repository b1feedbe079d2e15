package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the batches a document would be split into",
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	in, err := loadInput(inputPath, uuid.NewString())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !in.isPDF() {
		batches, err := pipeline.PlanText(in.text, cfg.MaxChunkTokens)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d chunks of at most %d tokens (about %d tokens total)\n",
			in.doc.Name, len(batches), cfg.MaxChunkTokens, pipeline.EstimateTokens(in.text))
		for _, b := range batches {
			fmt.Fprintf(out, "  chunk %3d  ~%d tokens\n", b.Number, pipeline.EstimateTokens(string(b.Payload)))
		}
		return nil
	}

	size := cfg.PagesPerBatch
	if cfg.AutoBatchSize {
		size = pipeline.RecommendBatchSize(in.doc)
	}
	batches, err := pipeline.Plan(in.doc, pipeline.PlanConfig{
		PagesPerBatch: size,
		OverlapPages:  cfg.OverlapPages,
		MaxBatches:    cfg.MaxBatches,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d pages, %d batches of %d pages (overlap %d, recommended size %d)\n",
		in.doc.Name, in.doc.PageCount, len(batches), size, cfg.OverlapPages, pipeline.RecommendBatchSize(in.doc))
	for _, b := range batches {
		fmt.Fprintf(out, "  batch %3d  pages %s\n", b.Number, b.PageRange())
	}
	return nil
}
