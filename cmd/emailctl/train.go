package main

import (
	"encoding/json"
	"fmt"

	"email-classifier/internal/config"

	"github.com/spf13/cobra"
)

type trainSummary struct {
	RunID        string         `json:"run_id"`
	Model        string         `json:"model"`
	Accuracy     float64        `json:"accuracy"`
	BestParams   map[string]any `json:"best_params"`
	CVBestScore  float64        `json:"cv_best_score"`
	Promoted     bool           `json:"promoted"`
	PreviousBest float64        `json:"previous_best,omitempty"`
	Report       map[string]any `json:"report"`
}

func newTrainCmd(g *globals) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "train config.yml",
		Short: "train, evaluate, track and (maybe) promote a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			ds, err := g.loadData(cfg, true)
			if err != nil {
				return err
			}
			if len(ds) == 0 {
				return fmt.Errorf("%s: no rows left after balancing", cfg.Data.FilePath)
			}

			training, err := g.factory(workers).Training(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			res, err := training.Run(cmd.Context(), ds.Bodies(), ds.Labels())
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(trainSummary{
				RunID:        res.RunID,
				Model:        res.Model.String(),
				Accuracy:     res.Evaluation.Accuracy,
				BestParams:   res.Search.BestParams,
				CVBestScore:  res.Search.BestScore,
				Promoted:     res.Promoted,
				PreviousBest: res.PreviousBest,
				Report:       res.Evaluation.Report.Map(),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent grid-search candidates (0 = default)")
	return cmd
}
