package app

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"shenbaosift/internal/csvcodec"
	"shenbaosift/internal/domain"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	var outPath, xlsxPath string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "classify <file>",
		Short: "Classify a CSV or XLSX file and write the matched articles",
		Long: "Classify reads Title,Author,日期 rows from a .csv or .xlsx file, sends the titles\n" +
			"to the configured model in batches and writes the matching rows as CSV to\n" +
			"stdout or to --out.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()
			return classifyFile(cmd, e, args[0], outPath, xlsxPath, quiet)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write matched CSV here instead of stdout")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write matched rows as XLSX")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print batch progress")
	return cmd
}

func classifyFile(cmd *cobra.Command, e *env, path, outPath, xlsxPath string, quiet bool) error {
	ctx := cmd.Context()
	name := filepath.Base(path)
	run := domain.RunRecord{
		ID:         uuid.NewString(),
		Source:     domain.RunSourceCLI,
		SourceName: name,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	records, err := csvcodec.Decode(name, data)
	if err != nil {
		return fmt.Errorf("%s: %s", name, domain.UserMessage(err))
	}
	run.TotalRecords = len(records)

	progress := func(p domain.Progress) {
		if !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "正在分析... (%d / %d批次)\n", p.Current, p.Total)
		}
	}
	run.StartedAt = now()
	res, err := e.newOrchestrator().Run(ctx, records, progress)
	run.FinishedAt = now()
	run.TotalBatches = res.Batches
	logUsage(e.classifier, "classify token usage")
	if err != nil {
		run.Status = domain.RunStatusError
		run.Error = domain.UserMessage(err)
		e.recorder.Record(ctx, run, nil)
		return err
	}
	run.Status = domain.RunStatusDone
	run.MatchedCount = len(res.Matched)

	if err := writeOutputs(cmd.OutOrStdout(), res.Matched, outPath, xlsxPath); err != nil {
		return err
	}
	e.recorder.Record(ctx, run, res.Matched)
	fmt.Fprintf(cmd.ErrOrStderr(), "从 %d 篇文章中筛选出 %d 篇 “志怪异事” 相关文章。\n", len(records), len(res.Matched))
	return nil
}

func writeOutputs(stdout io.Writer, matched []domain.Record, outPath, xlsxPath string) error {
	if outPath == "" {
		if err := csvcodec.Write(stdout, matched); err != nil {
			return err
		}
	} else if err := os.WriteFile(outPath, csvcodec.Serialize(matched), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	if xlsxPath != "" {
		var buf bytes.Buffer
		if err := csvcodec.WriteXLSX(&buf, matched); err != nil {
			return err
		}
		if err := os.WriteFile(xlsxPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", xlsxPath, err)
		}
	}
	return nil
}
