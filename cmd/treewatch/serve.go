package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/internal/demo"
	"github.com/hazyhaar/treewatch/server"
	"github.com/hazyhaar/treewatch/wire"
)

var (
	serveDemo bool
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an agent to websocket observers",
	Long: `Serve an agent on the configured address. Observers attach to the
websocket path and receive the operation log; /profiles/{token} and
/nodes/{id} expose profiles and snapshots as JSON.

Example:
  treewatch serve --demo --addr :7780`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		codec, err := wire.CodecByName(cfg.Codec)
		if err != nil {
			return err
		}

		acfg, err := agentConfig()
		if err != nil {
			return err
		}
		router := bridge.NewRouter(logger)
		acfg.Bridge = router

		var surface *demo.Surface
		if serveDemo {
			surface = &demo.Surface{}
			acfg.Observer = surface
			acfg.Debugger = &demo.Debugger{}
			acfg.Profiling = true
		}
		ag := agent.New(acfg)
		defer ag.Close()

		var app *demo.App
		if serveDemo {
			app = demo.New(demo.Config{Agent: ag, Surface: surface, Logger: logger})
		}
		return serveAgent(ctx, ag, router, codec, app)
	},
}

func serveAgent(ctx context.Context, ag *agent.Agent, router *bridge.Router, codec wire.Codec, app *demo.App) error {
	srv := server.New(server.Config{
		Addr:   cfg.Server.Addr,
		Path:   cfg.Server.Path,
		Router: router,
		Source: ag,
		Codec:  codec,
		Logger: logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if app != nil {
		g.Go(func() error { return app.Run(gctx) })
	}
	return g.Wait()
}

func init() {
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "drive the agent with a synthetic todo app")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
