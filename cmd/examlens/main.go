// Command examlens scores examination centers for statistical irregularity.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/examlens/examlens/pkg/dataset"
	csvio "github.com/examlens/examlens/pkg/io/csv"
	"github.com/examlens/examlens/pkg/moments"
	"github.com/examlens/examlens/pkg/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examlens",
		Short: "Isolation-forest anomaly scoring for examination centers",
		Long: `examlens derives distributional features from per-student marks,
merges them with per-center statistics and scores every center for
statistical irregularity with an isolation forest.`,
		SilenceUsage: true,
	}

	root.AddCommand(newDetectCmd())
	root.AddCommand(newScoreCmd())
	return root
}

func newDetectCmd() *cobra.Command {
	var (
		marksPath   string
		centersPath string
		outPath     string
		modelPath   string
		configPath  string
	)
	cfg := pipeline.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Train on a batch of centers and report the anomalous ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				fileCfg, err := pipeline.LoadConfig(configPath)
				if err != nil {
					return err
				}
				// Explicit flags win over the config file.
				applyFlagOverrides(cmd, &fileCfg, cfg)
				cfg = fileCfg
			}

			students, centers, err := loadInputs(marksPath, centersPath)
			if err != nil {
				return err
			}

			p, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			report, err := p.Run(students, centers)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := writeReport(outPath, report); err != nil {
					return err
				}
				fmt.Printf("Results for %d centers written to %s\n", len(report.Rows), outPath)
			}
			if modelPath != "" {
				blob, err := p.Save()
				if err != nil {
					return err
				}
				if err := os.WriteFile(modelPath, blob, 0o644); err != nil {
					return err
				}
				fmt.Printf("Trained model written to %s\n", modelPath)
			}

			printTop(report.Top(cfg.TopN), len(report.Rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&marksPath, "marks", "", "per-student marks CSV (center_id, marks)")
	cmd.Flags().StringVar(&centersPath, "centers", "", "per-center stats CSV")
	cmd.Flags().StringVar(&outPath, "out", "", "output CSV for the extended result table")
	cmd.Flags().StringVar(&modelPath, "model", "", "output file for the trained model")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML pipeline configuration")
	cmd.Flags().IntVar(&cfg.Trees, "trees", cfg.Trees, "number of isolation trees")
	cmd.Flags().IntVar(&cfg.SampleSize, "sample-size", cfg.SampleSize, "per-tree subsample size")
	cmd.Flags().Float64Var(&cfg.Contamination, "contamination", cfg.Contamination, "assumed fraction of anomalous centers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	cmd.Flags().IntVar(&cfg.TopN, "top", cfg.TopN, "number of ranked anomalies to print")
	cmd.MarkFlagRequired("marks")
	cmd.MarkFlagRequired("centers")

	return cmd
}

func newScoreCmd() *cobra.Command {
	var (
		marksPath   string
		centersPath string
		outPath     string
		modelPath   string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a new batch of centers against a saved model",
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(modelPath)
			if err != nil {
				return err
			}
			p, err := pipeline.Load(blob)
			if err != nil {
				return fmt.Errorf("load model %s: %w", modelPath, err)
			}

			students, centers, err := loadInputs(marksPath, centersPath)
			if err != nil {
				return err
			}
			master := dataset.BuildMaster(centers, moments.Aggregate(students))

			scores, err := p.ScoreBatch(master)
			if err != nil {
				return err
			}
			report, err := pipeline.Assemble(master, scores)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := writeReport(outPath, report); err != nil {
					return err
				}
				fmt.Printf("Results for %d centers written to %s\n", len(report.Rows), outPath)
			}

			printTop(report.Top(p.Config().TopN), len(report.Rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "trained model file")
	cmd.Flags().StringVar(&marksPath, "marks", "", "per-student marks CSV (center_id, marks)")
	cmd.Flags().StringVar(&centersPath, "centers", "", "per-center stats CSV")
	cmd.Flags().StringVar(&outPath, "out", "", "output CSV for the extended result table")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("marks")
	cmd.MarkFlagRequired("centers")

	return cmd
}

// applyFlagOverrides copies flag values the user set explicitly on top of a
// config loaded from file.
func applyFlagOverrides(cmd *cobra.Command, dst *pipeline.Config, flags pipeline.Config) {
	if cmd.Flags().Changed("trees") {
		dst.Trees = flags.Trees
	}
	if cmd.Flags().Changed("sample-size") {
		dst.SampleSize = flags.SampleSize
	}
	if cmd.Flags().Changed("contamination") {
		dst.Contamination = flags.Contamination
	}
	if cmd.Flags().Changed("seed") {
		dst.Seed = flags.Seed
	}
	if cmd.Flags().Changed("top") {
		dst.TopN = flags.TopN
	}
}

func loadInputs(marksPath, centersPath string) ([]dataset.StudentRecord, []dataset.CenterStats, error) {
	sr, err := csvio.NewStudentReader(marksPath)
	if err != nil {
		return nil, nil, err
	}
	defer sr.Close()
	students, err := sr.ReadStudents()
	if err != nil {
		return nil, nil, err
	}

	cr, err := csvio.NewCenterReader(centersPath)
	if err != nil {
		return nil, nil, err
	}
	defer cr.Close()
	centers, err := cr.ReadCenters()
	if err != nil {
		return nil, nil, err
	}

	return students, centers, nil
}

func writeReport(path string, report *pipeline.Report) error {
	w, err := csvio.NewResultWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteReport(report); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func printTop(rows []pipeline.Row, total int) {
	if len(rows) == 0 {
		fmt.Printf("No anomalous centers among %d scored.\n", total)
		return
	}

	fmt.Printf("\nTop %d anomalous centers (of %d scored):\n", len(rows), total)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tCITY\tCENTER\tNATIONAL GAP\tULTRA HIGH RATIO\tSKEWNESS\tSCORE")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\t%.4f\n",
			row.State, row.City, row.CenterName,
			row.NationalGap,
			formatCell(row.UltraHighScoreRatio),
			formatCell(row.Skewness),
			row.AnomalyScore)
	}
	tw.Flush()
}

func formatCell(v dataset.Float) string {
	if !v.Valid {
		return "-"
	}
	return fmt.Sprintf("%.2f", v.Value)
}
