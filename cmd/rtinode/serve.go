package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openrti-go/rticore/internal/api"
	"github.com/openrti-go/rticore/internal/config"
	"github.com/openrti-go/rticore/internal/discovery"
	"github.com/openrti-go/rticore/internal/fomsource"
	"github.com/openrti-go/rticore/internal/server"
	"github.com/openrti-go/rticore/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a federation server node",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	node := server.NewNode(server.Options{
		Name:                 cfg.Server.Name,
		PermitTimeRegulation: cfg.Time.PermitRegulation,
	}, logger)
	node.Start()
	defer node.Stop()
	logger.Infow("server node started", "name", cfg.Server.Name, "root", cfg.Parent.Address == "")

	ctx := context.Background()

	if cfg.Modules.Source == "s3" {
		source, err := fomsource.New(ctx, fomsource.Config{
			Region:    cfg.Modules.Region,
			Bucket:    cfg.Modules.Bucket,
			Endpoint:  cfg.Modules.Endpoint,
			AccessKey: cfg.Modules.AccessKey,
			SecretKey: cfg.Modules.SecretKey,
		}, logger)
		if err != nil {
			return err
		}
		modules, err := source.Fetch(ctx, cfg.Modules.Keys)
		if err != nil {
			return err
		}
		logger.Infow("module bundles loaded", "count", len(modules))
	}

	var monitor *discovery.Monitor
	if cfg.Discovery.Enabled {
		monitor, err = discovery.New(discovery.Config{
			NodeName: cfg.Server.Name,
			BindAddr: cfg.Discovery.BindAddr,
			BindPort: cfg.Discovery.BindPort,
			Peers:    cfg.Discovery.Peers,
		}, logger)
		if err != nil {
			return err
		}
		defer monitor.Shutdown()
		go func() {
			for ev := range monitor.Events() {
				switch ev.Kind {
				case discovery.MemberJoined:
					logger.Infow("peer alive", "member", ev.Name, "addr", ev.Addr)
				case discovery.MemberLeft:
					logger.Warnw("peer dead", "member", ev.Name, "addr", ev.Addr)
					node.MemberLost(ev.Name)
				}
			}
		}()
	}

	router := api.NewRouter(node, logger, cfg)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router.Handler()}
	go func() {
		logger.Infow("admin surface listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("admin surface", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Infow("shutting down")
	return httpServer.Shutdown(ctx)
}
