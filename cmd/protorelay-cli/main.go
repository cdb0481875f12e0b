// Command protorelay-cli is the operator tool for validating gateway
// configuration and inspecting routing tables before deploying them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	aigateway "github.com/protorelay/gateway"
	"github.com/protorelay/gateway/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:   "protorelay-cli",
		Short: "Validate and inspect protorelay gateway configuration",
	}
	root.AddCommand(validateCmd())
	root.AddCommand(routesCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := aigateway.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := aigateway.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			fmt.Println("config is valid")
			fmt.Printf("  providers: %d\n", len(cfg.Providers))
			fmt.Printf("  categories: %d\n", len(cfg.Routing.Categories))
			for name, p := range cfg.Providers {
				fmt.Printf("    - %s (%s, %d model(s))\n", name, p.Type, len(p.Models))
			}
			return nil
		},
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes <config-file>",
		Short: "Print the resolved category → binding routing table",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := aigateway.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := aigateway.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			for name, c := range cfg.Routing.Categories {
				fmt.Printf("%s (strategy=%s, failover=%v)\n", name, c.LoadBalancing.Strategy, c.LoadBalancing.EnableFailover)
				fmt.Printf("  primary: %s/%s\n", c.Primary.Provider, c.Primary.Model)
				for _, b := range c.Backups {
					fmt.Printf("  backup:  %s/%s\n", b.Provider, b.Model)
				}
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("protorelay-cli %s\n", version.String())
			return nil
		},
	}
}
