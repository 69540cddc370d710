package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glaciergh0st/HuntLens/internal/application/classifier"
	"github.com/glaciergh0st/HuntLens/internal/application/detection"
	"github.com/glaciergh0st/HuntLens/internal/application/pipeline"
	"github.com/glaciergh0st/HuntLens/internal/bootstrap"
	"github.com/glaciergh0st/HuntLens/internal/config"
	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
	"github.com/glaciergh0st/HuntLens/internal/infra/corpusfs"
	"github.com/glaciergh0st/HuntLens/internal/middleware"
)

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <artifact>",
		Short: "Classify an artifact and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			a, err := classifier.New(classifier.Options{MaxLength: cfg.Retrieval.MaxInputLength}).Classify(args[0])
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			return writeJSON(cmd.OutOrStdout(), rootOpts.Format, a)
		},
	}
}

// NewDetectCommand creates the detect command.
func NewDetectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <artifact>",
		Short: "Print SIEM hunting queries and a Sigma rule for an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			a, err := classifier.New(classifier.Options{MaxLength: cfg.Retrieval.MaxInputLength}).Classify(args[0])
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			m := detection.NewMapper(rootOpts.logger(cfg, cmd.ErrOrStderr()))
			return writeJSON(cmd.OutOrStdout(), rootOpts.Format, struct {
				Artifact         artifact.Artifact         `json:"classified_artifact"`
				DetectionQueries playbook.DetectionQueries `json:"detection_queries"`
			}{a, m.Map(cmd.Context(), a)})
		},
	}
}

// NewRetrieveCommand creates the retrieve command.
func NewRetrieveCommand(rootOpts *RootOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "retrieve <artifact>",
		Short: "Rank corpus evidence for an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			// retrieval never records runs
			cfg.Database.Driver = ""
			app, err := openApp(cmd, rootOpts, cfg)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			if k == 0 {
				k = app.Pipeline.Config().DefaultK
			}
			if err := middleware.ValidateK(k, app.Pipeline.Config().MaxK); err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			a, err := app.Classifier.Classify(args[0])
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			snap := app.Corpus.Current()
			items, err := app.Retriever.RetrieveFrom(cmd.Context(), snap, a, k)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			return writeJSON(cmd.OutOrStdout(), rootOpts.Format, struct {
				Artifact      artifact.Artifact `json:"classified_artifact"`
				CorpusVersion string            `json:"corpus_version"`
				Evidence      []evidence.Item   `json:"evidence"`
			}{a, snap.Version(), items})
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 0, "number of evidence items (default from config)")
	return cmd
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		k         int
		principal string
	)
	cmd := &cobra.Command{
		Use:   "run <artifact>",
		Short: "Generate a validated playbook for an artifact",
		Long: `Run the full pipeline: classify, retrieve evidence, generate a draft
and validate it. The result is printed even when the run fails, in which
case the exit code is 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			app, err := openApp(cmd, rootOpts, cfg)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			res, runErr := app.Pipeline.Run(cmd.Context(), pipeline.Request{Artifact: args[0], K: k, Principal: principal})
			if err := writeJSON(cmd.OutOrStdout(), rootOpts.Format, res); err != nil {
				return err
			}
			if runErr != nil {
				return &ExitError{Code: ExitFailure, Err: runErr}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 0, "number of evidence items (default from config)")
	cmd.Flags().StringVar(&principal, "principal", "cli", "principal recorded with the run")
	return cmd
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest JSON or YAML documents on top of the configured corpus",
		Long: `Load the configured corpus, ingest the given files into a new snapshot
and print the snapshot manifest with any rejected documents. When a MinIO
bucket is configured the manifest is archived there.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var batch []corpus.RawDocument
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return &ExitError{Code: ExitCommandError, Err: err}
				}
				docs, err := corpusfs.Decode(path, data)
				if err != nil {
					return &ExitError{Code: ExitCommandError, Err: err}
				}
				batch = append(batch, docs...)
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			cfg.Database.Driver = ""
			app, err := openApp(cmd, rootOpts, cfg)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			out := struct {
				Manifest *corpus.Manifest   `json:"manifest,omitempty"`
				Rejected []corpus.Rejection `json:"rejected"`
			}{Rejected: []corpus.Rejection{}}
			snap, err := app.Corpus.Ingest(cmd.Context(), batch)
			var ing *corpus.IngestionError
			if errors.As(err, &ing) {
				out.Rejected = ing.Rejected
			} else if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			if snap != nil {
				m := snap.Manifest()
				out.Manifest = &m
			}
			if err := writeJSON(cmd.OutOrStdout(), rootOpts.Format, out); err != nil {
				return err
			}
			if snap == nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			return nil
		},
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			logger := bootstrap.NewLogger(cfg.Log, cmd.ErrOrStderr())
			app, err := bootstrap.New(cmd.Context(), cfg, logger)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			if cfg.Corpus.LoadOnStart {
				if err := app.LoadCorpus(cmd.Context()); err != nil {
					logger.Error("corpus load failed", "error", err)
				}
			}
			return app.Serve(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// openApp wires the services and loads the corpus.
func openApp(cmd *cobra.Command, rootOpts *RootOptions, cfg *config.Config) (*bootstrap.App, error) {
	app, err := bootstrap.New(cmd.Context(), cfg, rootOpts.logger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Err: err}
	}
	if err := app.LoadCorpus(cmd.Context()); err != nil {
		_ = app.Close(context.Background())
		return nil, &ExitError{Code: ExitCommandError, Err: fmt.Errorf("load corpus: %w", err)}
	}
	return app, nil
}
