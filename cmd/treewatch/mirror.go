package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/model"
	"github.com/hazyhaar/treewatch/prefs"
	"github.com/hazyhaar/treewatch/store"
	"github.com/hazyhaar/treewatch/wire"
)

var (
	mirrorURL    string
	mirrorExpand bool
	mirrorSearch string
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Attach to a served agent and mirror its tree",
	Long: `Attach to a treewatch websocket endpoint, run the devtools handshake
and keep a local mirror of the tree. The visible tree is printed on exit.

Example:
  treewatch mirror --url ws://localhost:7780/ws --expand`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		codec, err := wire.CodecByName(cfg.Codec)
		if err != nil {
			return err
		}
		url := mirrorURL
		if url == "" {
			url = "ws://localhost" + cfg.Server.Addr + cfg.Server.Path
		}
		if !strings.Contains(url, "codec=") && codec != wire.JSON {
			url += "?codec=" + codec.Name()
		}

		ws, err := bridge.Dial(ctx, url, bridge.WebSocketConfig{Codec: codec, Logger: logger})
		if err != nil {
			return err
		}
		defer ws.Close()

		ps, err := prefs.OpenSQLite(cfg.Prefs.Path)
		if err != nil {
			return err
		}
		defer ps.Close()

		st := store.New(store.Config{
			Bridge:        ws,
			Logger:        logger,
			RetryInterval: cfg.Store.RetryInterval,
			Prefs:         ps,
		})
		defer st.Close()

		tm := model.New()
		unbind := tm.Bind(st)
		defer unbind()

		remove := st.AddListener(store.EventUpdated, func(payload any) {
			if mirrorExpand {
				for _, n := range tm.Items() {
					if n.IsRoot() && !tm.IsExpanded(n.ID) {
						tm.ToggleExpandedRecursive(n.ID)
					}
				}
			}
			logger.Info("mirror: updated", "token", payload, "nodes", len(tm.Items()), "visible", len(tm.GetVisibleItems()))
		})
		defer remove()

		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		pw := prefs.NewWatcher(ps, prefs.WatchOptions{Interval: time.Second, Debounce: 200 * time.Millisecond, Logger: logger})
		go pw.Run(watchCtx, func() error {
			pinned, err := st.Pinned(watchCtx)
			if err != nil {
				return err
			}
			logger.Info("mirror: pins changed", "pinned", pinned)
			return nil
		})

		st.ToggleDevtoolsOpened(true)
		logger.Info("mirror: attached", "url", url)

		select {
		case <-ctx.Done():
		case <-ws.Done():
			logger.Warn("mirror: connection closed")
		}
		return report(context.Background(), os.Stdout, st, tm)
	},
}

func report(ctx context.Context, w io.Writer, st *store.Store, tm *model.TreeModel) error {
	pinned, err := st.Pinned(ctx)
	if err != nil {
		return err
	}
	isPinned := make(map[string]bool, len(pinned))
	for _, name := range pinned {
		isPinned[name] = true
	}

	printTree(w, tm.GetVisibleItems(), tm, isPinned)

	if mirrorSearch != "" {
		ids, err := st.Search(mirrorSearch)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%d match(es) for %q\n", len(ids), mirrorSearch)
		for _, id := range ids {
			path, err := tm.GetPath(id)
			if err != nil {
				return err
			}
			names := make([]string, len(path))
			for i, n := range path {
				names[i] = n.Name
			}
			fmt.Fprintf(w, "  %s\n", strings.Join(names, " > "))
		}
	}
	return nil
}

func printTree(w io.Writer, nodes []*wire.Node, tm *model.TreeModel, pinned map[string]bool) {
	for _, n := range nodes {
		marker := " "
		if tm.HasChildren(n.ID) {
			marker = "+"
			if tm.IsExpanded(n.ID) {
				marker = "-"
			}
		}
		pin := ""
		if pinned[n.Name] {
			pin = " *"
		}
		fmt.Fprintf(w, "%s%s %s %s%s\n", strings.Repeat("  ", n.Depth), marker, n.DisplayID(), n.Name, pin)
	}
}

func init() {
	mirrorCmd.Flags().StringVar(&mirrorURL, "url", "", "websocket endpoint (default from server.addr and server.path)")
	mirrorCmd.Flags().BoolVar(&mirrorExpand, "expand", false, "expand every root recursively")
	mirrorCmd.Flags().StringVar(&mirrorSearch, "search", "", "print the paths of nodes matching this query (/re/ for a regexp)")
	rootCmd.AddCommand(mirrorCmd)
}
