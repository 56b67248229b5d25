package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/InsulaLabs/csmap/config"
	"github.com/InsulaLabs/csmap/converge"
	"github.com/InsulaLabs/csmap/mapper"
	"github.com/InsulaLabs/csmap/runtime"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	envVcdPassword = "CSMAP_VCD_PASSWORD"
	envEncPassword = "CSMAP_ENC_PASSWORD"
)

// flags holds every command line value. Operation flags live on the root so
// both the subcommands and --action see them.
type flags struct {
	configPath  string
	href        string
	skipVerify  bool
	logLevel    string
	logFormat   string
	username    string
	password    string
	encPassword string
	action      string

	endpoint   string
	vcdTenant  string
	csTenant   string
	csUsername string
	csPassword string
	csDomain   string
	all        bool

	operationID string
	limit       int
}

var opts flags

var rootCmd = &cobra.Command{
	Use:   "csmap",
	Short: "Map vCD tenants to Cohesity tenants through encrypted organization metadata",
	Long: `csmap edits the encrypted endpoint records that the Cohesity vCD extension
keeps in organization metadata, adding or removing tenant mappings and
re-publishing the extension to the mapped organizations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if opts.action == "" {
			return cmd.Help()
		}
		return dispatchAction(cmd, opts.action)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to a csmap YAML configuration file")
	pf.StringVar(&opts.href, "href", "", "vCD URL, for example https://vcd.example.com")
	pf.BoolVar(&opts.skipVerify, "skip-verify", false, "Skip TLS verification towards vCD and clusters")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&opts.username, "username", "", "vCD provider username")
	pf.StringVar(&opts.password, "password", "", "vCD provider password (or "+envVcdPassword+")")
	pf.StringVar(&opts.encPassword, "enc-password", "", "Metadata encryption password (or "+envEncPassword+")")

	pf.StringVar(&opts.endpoint, "endpoint", "", "Endpoint name")
	pf.StringVar(&opts.vcdTenant, "vcd-tenant", "", "vCD tenant (organization) name")
	pf.StringVar(&opts.csTenant, "cs-tenant", "", "Cohesity tenant name")
	pf.StringVar(&opts.csUsername, "cs-username", "", "Cohesity tenant username")
	pf.StringVar(&opts.csPassword, "cs-password", "", "Cohesity tenant password")
	pf.StringVar(&opts.csDomain, "cs-domain", "", "Cohesity tenant user domain")
	pf.BoolVar(&opts.all, "all", false, "List mapped vCD tenants across every endpoint")

	rootCmd.Flags().StringVar(&opts.action, "action", "", "Operation to run: add, remove or list")

	rootCmd.AddCommand(addCmd, removeCmd, listCmd, journalCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

func reportError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
	switch {
	case errors.Is(err, converge.ErrConvergenceTimeout):
		fmt.Fprintf(os.Stderr, "%s the mapping change was already written; run %s to check the current state\n",
			color.YellowString("Note:"), color.CyanString("csmap list"))
	case errors.Is(err, mapper.ErrInvalidRequest):
		fmt.Fprintf(os.Stderr, "Run %s for the required flags.\n", color.CyanString("csmap <command> --help"))
	}
}

func envOr(value, env string) string {
	if value != "" {
		return value
	}
	return os.Getenv(env)
}

// loadConfig reads --config (or the defaults), applies flag overrides and
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.ReadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", opts.configPath, err)
		}
		cfg = loaded
	}

	pf := cmd.Flags()
	if pf.Changed("href") {
		cfg.Vcd.Href = opts.href
	}
	if pf.Changed("skip-verify") {
		cfg.Vcd.SkipVerify = opts.skipVerify
		cfg.Cluster.SkipVerify = opts.skipVerify
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRuntime(cmd *cobra.Command) (*runtime.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := runtime.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return runtime.New(cfg, logger)
}

func credentials() mapper.Credentials {
	return mapper.Credentials{
		Username: opts.username,
		Password: envOr(opts.password, envVcdPassword),
	}
}
