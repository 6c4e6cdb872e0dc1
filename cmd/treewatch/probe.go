package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/internal/domprobe"
	"github.com/hazyhaar/treewatch/internal/render"
	"github.com/hazyhaar/treewatch/wire"
)

var (
	probeURL      string
	probeFor      time.Duration
	probeSelector string
	probeServe    bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Profile a live page's DOM through Chrome",
	Long: `Open a page in Chrome, render the DOM under a selector as a tree every
interval and print one JSON profile per synchronization pass: which
elements changed and which ones saw DOM mutations.

Example:
  treewatch probe --url https://example.com --for 30s --selector main`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if probeFor > 0 {
			cfg.Probe.Duration = probeFor
		}
		if probeSelector != "" {
			cfg.Probe.Selector = probeSelector
		}
		ctx, cancel := context.WithTimeout(ctx, cfg.Probe.Duration)
		defer cancel()

		p, err := domprobe.Open(ctx, domprobe.Config{
			Remote:   cfg.Probe.Remote,
			URL:      probeURL,
			Selector: cfg.Probe.Selector,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer p.Close()

		acfg, err := agentConfig()
		if err != nil {
			return err
		}
		router := bridge.NewRouter(logger)
		acfg.Bridge = router
		acfg.Observer = p
		acfg.Debugger = p
		acfg.Profiling = true
		ag := agent.New(acfg)
		defer ag.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return probeLoop(gctx, p, ag) })
		if probeServe {
			codec, err := wire.CodecByName(cfg.Codec)
			if err != nil {
				return err
			}
			g.Go(func() error { return serveAgent(gctx, ag, router, codec, nil) })
		}
		return g.Wait()
	},
}

func probeLoop(ctx context.Context, p *domprobe.Probe, ag *agent.Agent) error {
	r := render.New(ag, p)
	enc := json.NewEncoder(os.Stdout)
	t := time.NewTicker(cfg.Probe.Interval)
	defer t.Stop()
	for {
		frame, err := p.Frame()
		if err != nil {
			logger.Warn("probe: frame failed", "error", err)
		} else {
			token := r.Render(frame)
			if prof, ok := ag.Profile(token); ok {
				if err := enc.Encode(prof); err != nil {
					return err
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func init() {
	probeCmd.Flags().StringVar(&probeURL, "url", "", "page to open")
	probeCmd.Flags().DurationVar(&probeFor, "for", 0, "how long to observe (overrides probe.duration)")
	probeCmd.Flags().StringVar(&probeSelector, "selector", "", "CSS selector of the observed subtree (overrides probe.selector)")
	probeCmd.Flags().BoolVar(&probeServe, "serve", false, "also serve the agent to websocket observers")
	probeCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(probeCmd)
}
