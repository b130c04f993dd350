package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/app"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const settingsTimeout = 10 * time.Second

func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change the security header settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective settings and any configuration issues",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSource(cmd, opts, func(ctx context.Context, source settings.Source, logger *zap.Logger) error {
					provider := settings.NewProvider(source, logger)
					if err := provider.Reload(ctx); err != nil {
						return fmt.Errorf("failed to load settings: %w", err)
					}
					return printSettings(cmd.OutOrStdout(), source.Name(), provider.Snapshot(), provider.Issues())
				})
			},
		},
		newWriteCmd(opts, "disable-csp", "Turn off the Content-Security-Policy header", settings.FamilyCSP, "enabled", "false"),
		newWriteCmd(opts, "disable-hsts", "Turn off the Strict-Transport-Security header", settings.FamilyHSTS, "enabled", "false"),
		&cobra.Command{
			Use:   "set <family> <key> <value>",
			Short: "Store a single setting",
			Long: `Store a single setting in the redis settings store. List values
(csp directives, permissions_policy features, misc headers) are JSON arrays.`,
			Args: cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return writeSetting(cmd, opts, args[0], args[1], args[2])
			},
		},
	)
	return cmd
}

func newWriteCmd(opts *options, use, short, family, key, value string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeSetting(cmd, opts, family, key, value)
		},
	}
}

func writeSetting(cmd *cobra.Command, opts *options, family, key, value string) error {
	return withSource(cmd, opts, func(ctx context.Context, source settings.Source, logger *zap.Logger) error {
		writer, ok := source.(settings.Writer)
		if !ok {
			return fmt.Errorf("%s source: %w", source.Name(), settings.ErrReadOnlySource)
		}
		if err := writer.Set(ctx, family, key, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %s\n", family, key, value)
		return nil
	})
}

// withSource loads the configuration and hands the configured settings
// source to fn. Logs go to stderr so stdout stays machine readable.
func withSource(cmd *cobra.Command, opts *options, fn func(context.Context, settings.Source, *zap.Logger) error) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	cfg.Logging.Output = "stderr"
	logger, err := app.SetupLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	source, err := app.NewSettingsSource(cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := source.(io.Closer); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), settingsTimeout)
	defer cancel()

	return fn(ctx, source, logger)
}

func printSettings(w io.Writer, source string, snap *settings.Snapshot, issues []*settings.ConfigurationError) error {
	out := struct {
		Source   string                        `json:"source"`
		Settings *settings.Snapshot            `json:"settings"`
		Issues   []*settings.ConfigurationError `json:"issues,omitempty"`
	}{
		Source:   source,
		Settings: snap,
		Issues:   issues,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
