// Command refstore builds, publishes and inspects lookup-table stores.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/andreyvit/refstore"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by all subcommands, filled in before any of
// them runs.
type app struct {
	configPath string
	verbose    bool

	cfg    refstore.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "refstore",
		Short:         "Build and distribute immutable lookup tables",
		Long:          `Builds lookup-table stores, publishes them to shared cluster storage, and materializes and queries local replicas.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("REFSTORE_CONFIG"), "YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		a.buildCmd(),
		a.publishCmd(),
		a.materializeCmd(),
		a.listCmd(),
		a.getCmd(),
		a.scanCmd(),
		a.inspectCmd(),
		a.verifyCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := refstore.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(cmd.ErrOrStderr())
	return nil
}

func (a *app) distributor(ctx context.Context) (*refstore.Distributor, error) {
	cfs, err := openCluster(ctx, a.cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	return refstore.NewDistributor(cfs, a.cfg.DistributorOptions(a.logger)), nil
}

func (a *app) manager(ctx context.Context) (*refstore.ConnectionManager, error) {
	dist, err := a.distributor(ctx)
	if err != nil {
		return nil, err
	}
	return refstore.NewConnectionManager(dist, a.cfg.ManagerOptions(a.logger)), nil
}

func parseRefs(args []string) ([]refstore.Reference, error) {
	refs := make([]refstore.Reference, 0, len(args))
	for _, arg := range args {
		ref, err := refstore.ParseReference(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
