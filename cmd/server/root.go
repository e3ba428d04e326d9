package main

import (
	"github.com/olyamironova/solbot-sim/internal/config"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	httpAddr   string
	grpcAddr   string
	storage    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "solbot",
		Short: "Paper-trading simulator for a SOL/USDC trading bot",
		Long: `solbot runs a simulated trading bot per user: it observes a SOL price,
applies a buy-the-dip / take-profit rule and books every fill against a
paper portfolio. Nothing is ever sent to a chain.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML config file")
	pf.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	pf.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC listen address")
	pf.StringVar(&f.storage, "storage", "", "storage driver: memory, postgres or sqlite")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newServeCmd(f), newSimulateCmd(f))
	return root
}

// load reads the config and applies flags set on the command line.
func (f *rootFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("http-addr") {
		cfg.Server.HTTPAddr = f.httpAddr
	}
	if flags.Changed("grpc-addr") {
		cfg.Server.GRPCAddr = f.grpcAddr
	}
	if flags.Changed("storage") {
		cfg.Storage.Driver = f.storage
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	return cfg, cfg.Validate()
}
