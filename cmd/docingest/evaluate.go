package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a PDF's embedded text layer and show the route it would take",
	RunE:  runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	in, err := loadInput(inputPath, uuid.NewString())
	if err != nil {
		return err
	}
	if !in.isPDF() {
		return fmt.Errorf("evaluate needs a PDF; text documents are always chunked")
	}
	evaluator, err := pipeline.NewQualityEvaluator(cfg.Quality)
	if err != nil {
		return err
	}
	m := evaluator.Evaluate(in.text, in.doc.PageCount)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Document:       %s (%d pages, %d bytes)\n", in.doc.Name, in.doc.PageCount, in.doc.ByteSize)
	fmt.Fprintf(out, "Text density:   %.1f chars/page (min %.1f)\n", m.TextDensity, cfg.Quality.MinTextDensity)
	fmt.Fprintf(out, "Garbage ratio:  %.3f (max %.3f)\n", m.GarbageRatio, cfg.Quality.MaxGarbageRatio)
	fmt.Fprintf(out, "Script ratio:   %.3f (min %.3f)\n", m.ScriptRatio, cfg.Quality.MinScriptRatio)
	fmt.Fprintf(out, "Verdict:        %s\n", m.Reason)
	if m.Detail != "" {
		fmt.Fprintf(out, "Detail:         %s\n", m.Detail)
	}
	fmt.Fprintf(out, "Route:          %s\n", m.Route())
	return nil
}
