package main

import (
	"encoding/json"
	"fmt"

	"email-classifier/internal/config"
	"email-classifier/internal/dataset"

	"github.com/spf13/cobra"
)

type prediction struct {
	Body       string   `json:"body"`
	Prediction int      `json:"prediction"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func newInferCmd(g *globals) *cobra.Command {
	var confidence bool
	cmd := &cobra.Command{
		Use:   "infer config.yml [email body...]",
		Short: "classify emails with the promoted model",
		Long: "Classify the given email bodies, or every row of the configured " +
			"dataset when none are given. Prints one JSON object per line.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			docs := args[1:]
			if len(docs) == 0 {
				ds, err := g.loadData(cfg, false)
				if err != nil {
					return err
				}
				docs = ds.Bodies()
			}

			inf, err := g.factory(0).Inference(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			res, err := inf.Run(cmd.Context(), docs, confidence)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i, label := range res.Predictions {
				p := prediction{Body: docs[i], Label: label, Prediction: -1}
				if code, err := dataset.EncodeLabel(label); err == nil {
					p.Prediction = code
				}
				if confidence {
					p.Confidence = &res.Confidences[i]
				}
				if err := enc.Encode(p); err != nil {
					return fmt.Errorf("write prediction: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&confidence, "confidence", "c", false, "include the probability of the predicted class")
	return cmd
}
