package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odontosorriso/scheduling-agent/cmd/mainconfig"
	"github.com/odontosorriso/scheduling-agent/internal/app/bootstrap"
	appconfig "github.com/odontosorriso/scheduling-agent/internal/config"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operate the OdontoSorriso scheduling agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "warn", "log level for diagnostics written to stderr")

	root.AddCommand(newContextCmd(), newDecideCmd(), newDLQCmd())
	return root
}

func cmdLogger(cmd *cobra.Command) *logging.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logging.NewWithWriter(level, cmd.ErrOrStderr())
}

// openRuntime connects to the same backends the services use, configured
// from the environment.
func openRuntime(ctx context.Context, cmd *cobra.Command) (*bootstrap.Runtime, error) {
	cfg := appconfig.Load()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return bootstrap.NewRuntime(ctx, cfg, cmdLogger(cmd), awsCfg, nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
