// Command privacyctl drives the operator side of the data subject request queue
// against a running server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

const programName = "privacyctl"

var globalFlags = struct {
	server   string
	token    string
	operator string
	output   string
}{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Operate data subject requests",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if globalFlags.token == "" {
				return fmt.Errorf("admin token required (--token or PRIVACYHUB_SECURITY_ADMIN_TOKEN)")
			}
			if globalFlags.output != "table" && globalFlags.output != "json" {
				return fmt.Errorf("unsupported output %q", globalFlags.output)
			}
			return nil
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalFlags.server, "server", envOr("PRIVACYHUB_SERVER_URL", "http://localhost:8080"), "server base URL")
	flags.StringVar(&globalFlags.token, "token", os.Getenv("PRIVACYHUB_SECURITY_ADMIN_TOKEN"), "admin token")
	flags.StringVar(&globalFlags.operator, "operator", os.Getenv("USER"), "operator recorded on transitions")
	flags.StringVarP(&globalFlags.output, "output", "o", "table", "output format: table or json")

	rootCmd.AddCommand(dsrCommand())
	return rootCmd
}

func newClientFromFlags() *client {
	return newClient(globalFlags.server, globalFlags.token, globalFlags.operator)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
