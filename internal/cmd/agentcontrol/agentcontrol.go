// Package agentcontrol wires the Agent Control Kernel into a cobra CLI
// (§6 "CLI surface"), the same way internal/cmd/agent/root.go wires the
// fleet agent: a DebugConfig-embedding Runnable as the root command, built
// through internal/cmd's wrangler-style Command helper.
package agentcontrol

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	command "github.com/newrelic/agent-control/internal/cmd"
	"github.com/newrelic/agent-control/internal/cmd/exitcode"
	"github.com/newrelic/agent-control/internal/config"
)

var zopts = &zap.Options{Development: true}

// AgentControl is the root command: run with no subcommand, it loads the
// local config and runs the kernel until the process receives a shutdown
// signal.
type AgentControl struct {
	command.DebugConfig
	ConfigPath string `usage:"path to the local config file" env:"CONFIG_PATH" default:"/etc/newrelic/agent-control/config.yaml"`
	DataDir    string `usage:"base directory for local/remote config, staged packages and instance ids" env:"DATA_DIR" default:"/var/lib/newrelic/agent-control"`
}

func (a *AgentControl) PersistentPre(cmd *cobra.Command, _ []string) error {
	if err := a.SetupDebug(); err != nil {
		return fmt.Errorf("setting up debug logging: %w", err)
	}
	zopts = a.OverrideZapOpts(zopts)
	return nil
}

func (a *AgentControl) Run(cmd *cobra.Command, _ []string) error {
	logger := zap.New(zap.UseFlagOptions(zopts))
	ctrl.SetLogger(logger)

	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		os.Exit(exitcode.FromConfigError(err))
	}

	ctx := cmd.Context()

	kern, collector, err := build(ctx, cfg, a.DataDir)
	if err != nil {
		return fmt.Errorf("wiring agent control: %w", err)
	}

	initial, err := dynamicConfigFrom(cfg)
	if err != nil {
		return fmt.Errorf("reading initial dynamic config: %w", err)
	}

	if err := kern.Start(ctx, initial); err != nil {
		return fmt.Errorf("starting kernel: %w", err)
	}
	if collector != nil {
		collector.Start(ctx)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if collector != nil {
		collector.Stop()
	}
	return kern.Stop(shutdownCtx)
}

// App builds the full CLI: the root "start" behaviour plus the bootstrap
// subcommands that are out of core scope and represented only by their
// exit-code contract (§13 Non-goals).
func App() *cobra.Command {
	root := command.Command(&AgentControl{}, cobra.Command{
		Use: "agent-control",
	})
	root.AddCommand(
		bootstrapCommand("install", "Install agent-control's on-host or k8s scaffolding"),
		bootstrapCommand("create-cd-resources", "Create the CD-managed k8s resources"),
		bootstrapCommand("remove-cd-resources", "Remove the CD-managed k8s resources"),
		bootstrapCommand("migrate", "Migrate an older on-host layout"),
	)
	return root
}

func bootstrapCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: not implemented in this build, represented only as an exit-code contract\n", use)
			os.Exit(exitcode.Unavailable)
			return nil
		},
	}
}
