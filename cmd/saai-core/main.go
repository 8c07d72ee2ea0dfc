// Command saai-core runs a SAAI node: replicated nano-cores under consensus,
// the event fabric that connects them and the admin API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Alfredo-rv/SAAI/internal/config"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath       string
	profile          string
	optimizeHardware bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "saai-core",
		Short:         "Self-healing replicated nano-core runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaultPath := os.Getenv("SAAI_CONFIG")
	if defaultPath == "" {
		defaultPath = "./config/saai.yaml"
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultPath, "path to config file")
	root.PersistentFlags().StringVar(&opts.profile, "profile", "", "base profile: development or production")
	root.PersistentFlags().BoolVar(&opts.optimizeHardware, "optimize-hardware", false, "size pools and caches from the host")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the node",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				return run(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "validate-config",
			Short: "Load and validate the configuration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: node %s, %d replicas per domain\n",
					cfg.Server.NodeID, cfg.Consensus.ReplicaCount)
				return nil
			},
		},
		&cobra.Command{
			Use:   "print-config",
			Short: "Print the effective configuration as YAML",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				return printConfig(cmd.OutOrStdout(), cfg)
			},
		},
	)
	return root
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadProfile(opts.configPath, opts.profile)
	if err != nil {
		return nil, err
	}
	if opts.optimizeHardware {
		config.OptimizeForHardware(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

func printConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
