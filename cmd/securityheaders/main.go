package main

import (
	"fmt"
	"os"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/app"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/config"
	"github.com/aitorroca/wn-securityheaders-plugin/pkg/version"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "config.yaml"

type options struct {
	configFile string
	host       string
	port       int
	targetHost string
	targetPort int
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	serve := func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, opts)
	}

	rootCmd := &cobra.Command{
		Use:   version.Name,
		Short: "Security header and CSP nonce proxy",
		Long: `securityheaders sits in front of a web application and adds a
Content-Security-Policy with per-request nonces, Strict-Transport-Security,
Permissions-Policy and custom headers to every response. Script, style and
link tags in HTML bodies are stamped with the nonce on the way out.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy (default)",
		RunE:  serve,
	}
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		// Server flags
		cmd.Flags().StringVar(&opts.host, "host", "0.0.0.0", "listen address")
		cmd.Flags().IntVarP(&opts.port, "port", "p", 8080, "listen port")

		// Proxy flags
		cmd.Flags().StringVar(&opts.targetHost, "target-host", "", "proxy target host")
		cmd.Flags().IntVar(&opts.targetPort, "target-port", 3000, "proxy target port")
	}

	rootCmd.AddCommand(serveCmd, newSettingsCmd(opts), newVersionCmd())
	return rootCmd
}

func runServer(cmd *cobra.Command, opts *options) error {
	// Override environment variables with command line flags before loading config
	if cmd.Flags().Changed("host") {
		os.Setenv("SECURITYHEADERS_HOST", opts.host)
	}
	if cmd.Flags().Changed("port") {
		os.Setenv("SECURITYHEADERS_PORT", fmt.Sprintf("%d", opts.port))
	}
	if cmd.Flags().Changed("target-host") {
		os.Setenv("SECURITYHEADERS_TARGET_HOST", opts.targetHost)
	}
	if cmd.Flags().Changed("target-port") {
		os.Setenv("SECURITYHEADERS_TARGET_PORT", fmt.Sprintf("%d", opts.targetPort))
	}
	applyLogLevel(cmd, opts)

	application, err := app.New(opts.configPath())
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run()
}

func applyLogLevel(cmd *cobra.Command, opts *options) {
	if cmd.Flags().Changed("log-level") {
		os.Setenv("LOG_LEVEL", opts.logLevel)
	}
}

// configPath falls back to no config file when the default one is missing
func (o *options) configPath() string {
	if o.configFile == defaultConfigFile {
		if _, err := os.Stat(o.configFile); os.IsNotExist(err) {
			return "-"
		}
	}
	return o.configFile
}

func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	applyLogLevel(cmd, o)
	cfg, err := config.Load(o.configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetBuildInfo().String())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
