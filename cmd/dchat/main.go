// Command dchat runs one node of the peer mesh: it loads a YAML
// configuration file, opens the logging sink, and drives the contact
// table's event loop until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dchatmesh/dchat-core/config"
	"github.com/dchatmesh/dchat-core/node"
	"github.com/dchatmesh/dchat-core/pkg/dlog"
)

// version is set at build time via -ldflags; it defaults to "dev" for
// local builds.
var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "dchat",
		Short: "DChat peer-gossip node",
		Long:  "Runs a DChat node: the contact table, gossip protocol, and duplicate resolver that keep the mesh fully connected.",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serve.Flags().StringVar(&configPath, "config", "/etc/dchat.yaml", "path to the node's YAML configuration file")
	root.AddCommand(serve)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the dchat version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("dchat " + version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := dlog.New(os.Stderr, cfg.LogLevel())
	switch cfg.Node.Logging.File {
	case "":
	case "syslog":
		if err := log.SetSyslog("dchat"); err != nil {
			return fmt.Errorf("failed to open system log: %w", err)
		}
	default:
		f, err := os.OpenFile(os.ExpandEnv(cfg.Node.Logging.File), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	n, err := node.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Log(dlog.Notice, "caught interrupt, shutting down")
		cancel()
	}()

	runErr := n.Run(ctx)
	for _, stopErr := range n.Stop() {
		log.Log(dlog.Error, "error during shutdown", dlog.Fields{"error": stopErr.Error()})
	}
	return runErr
}
