package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/annotator/internal/config"
	"github.com/ehr/annotator/internal/platform/dates"
	"github.com/ehr/annotator/internal/platform/hipaa"
	"github.com/ehr/annotator/internal/platform/workspace"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "annotator",
		Short:        "Metastasis case annotation server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(deidentifyCmd())
	root.AddCommand(normalizeDateCmd())
	root.AddCommand(workspaceCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the annotation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func deidentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deidentify [file]",
		Short: "Print the de-identified form of a report read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modality, _ := cmd.Flags().GetString("modality")

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hipaa.Display(string(raw), modality))
			return nil
		},
	}
	cmd.Flags().String("modality", "CT", "Report modality: CT, MRI or Bone Scan")
	return cmd
}

func normalizeDateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize-date VALUE...",
		Short: "Normalize report dates to YYYY-MM-DD",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, v := range args {
				normalized, ok := dates.Normalize(v)
				status := "ok"
				if !ok {
					status = "unparsed"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", v, normalized, status)
			}
			return nil
		},
	}
}

func workspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect and prepare user workspaces",
	}

	pathCmd := &cobra.Command{
		Use:   "path EMAIL",
		Short: "Print the working file path for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := workspace.ValidateEmail(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), workspace.NewResolver(cfg.DataDir).Path(email))
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init EMAIL",
		Short: "Create a user's workspace from the seed dataset if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := workspace.ValidateEmail(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			app, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			path, err := app.cases.Init(cmd.Context(), email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.AddCommand(pathCmd, initCmd)
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}
