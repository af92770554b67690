package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aliskhannn/generation-pipeline/internal/app"
	"github.com/aliskhannn/generation-pipeline/internal/config"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/queue"
)

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "generation-pipeline",
		Short:         "Asynchronous image and copy generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yml", "config file path")

	load := func() (*config.Config, error) {
		return config.Load(configFile)
	}

	root.AddCommand(
		newServeCommand(load),
		newSubmitCommand(load),
		newStatsCommand(load),
		newDLQCommand(load),
	)

	return root
}

type loader func() (*config.Config, error)

func newSubmitCommand(load loader) *cobra.Command {
	var (
		jobType      string
		userID       string
		generationID int64
		payload      string
		priority     int
		attempts     int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Enqueue one job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			p, err := model.DecodePayload(model.JobType(jobType), json.RawMessage(payload))
			if err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}

			req := queue.SubmitRequest{UserID: userID, GenerationID: generationID, Payload: p}
			if cmd.Flags().Changed("priority") || cmd.Flags().Changed("attempts") {
				req.Options = &queue.JobOptions{}
				if cmd.Flags().Changed("priority") {
					req.Options.Priority = &priority
				}
				if cmd.Flags().Changed("attempts") {
					req.Options.MaxAttempts = &attempts
				}
			}

			stores, err := app.OpenStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			id, err := queue.New(stores.Jobs, cfg.Defaults.JobOptions()).Submit(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", string(model.JobGenerate), "job type: generate, edit, variation or copy")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner of the job")
	cmd.Flags().Int64VarP(&generationID, "generation", "g", 0, "target generation id")
	cmd.Flags().StringVarP(&payload, "payload", "p", "{}", "payload as JSON")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, lower runs sooner")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "maximum attempts")

	return cmd
}

func newStatsCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			stores, err := app.OpenStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			stats, err := queue.New(stores.Jobs, cfg.Defaults.JobOptions()).Stats(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(stats)
		},
	}
}

func newDLQCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Dead-letter archive commands",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived failed jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			stores, err := app.OpenStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			records, err := stores.Archive.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			return printJSON(records)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum records")
	list.Flags().IntVar(&offset, "offset", 0, "records to skip")

	cmd.AddCommand(list)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
