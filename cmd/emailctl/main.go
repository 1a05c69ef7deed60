// Command emailctl trains and queries email classifiers from the shell.
package main

import (
	"fmt"
	"os"

	"email-classifier/internal/artifact"
	"email-classifier/internal/config"
	"email-classifier/internal/dataset"
	"email-classifier/internal/logger"
	"email-classifier/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globals struct {
	logLevel    string
	artifactDir string
	log         *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "emailctl",
		Short:         "train, evaluate and query email phishing classifiers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.New(g.logLevel, "console")
			if err != nil {
				return err
			}
			g.log = l
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.artifactDir, "artifact-dir", "", "store models in this directory instead of the tracking server's registry")

	root.AddCommand(newTrainCmd(g), newInferCmd(g), newBalanceCmd(g), newTokenCmd())
	return root
}

func (g *globals) factory(searchWorkers int) *pipeline.Factory {
	f := &pipeline.Factory{SearchWorkers: searchWorkers, Logger: g.log}
	if g.artifactDir != "" {
		dir := g.artifactDir
		f.NewStore = func(pipeline.Tracker) (artifact.Store, error) {
			return artifact.NewFileStore(dir), nil
		}
	}
	return f
}

// loadData reads the configured dataset, balanced when balance is set.
func (g *globals) loadData(cfg *config.Config, balance bool) (dataset.Dataset, error) {
	loader, err := dataset.NewLoader(cfg.FileType(), cfg.Columns(), g.log)
	if err != nil {
		return nil, err
	}
	var pre []dataset.Preprocessor
	if balance {
		pre = append(pre, dataset.NewBalancer())
	}
	return dataset.LoadAndPreprocess(loader, cfg.Data.FilePath, pre...)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "emailctl:", err)
		os.Exit(1)
	}
}
