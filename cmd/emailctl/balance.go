package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"email-classifier/internal/config"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
)

func newBalanceCmd(g *globals) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "balance config.yml",
		Short: "load and balance the configured dataset, writing it as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			raw, err := g.loadData(cfg, false)
			if err != nil {
				return err
			}
			balanced, err := g.loadData(cfg, true)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if err := gocsv.Marshal(&balanced, out); err != nil {
				return fmt.Errorf("write balanced dataset: %w", err)
			}

			counts := balanced.Counts()
			labels := make([]string, 0, len(counts))
			for l := range counts {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			fmt.Fprintf(cmd.ErrOrStderr(), "%d rows in, %d rows out\n", len(raw), len(balanced))
			for _, l := range labels {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %d\n", l, counts[l])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to stdout)")
	return cmd
}
