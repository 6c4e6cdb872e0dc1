// Package domprobe observes a live page over the Chrome DevTools Protocol.
// A Probe mirrors the page DOM, serves as the agent's structural-mutation
// observer and breakpoint debugger, and turns the DOM under a selector into
// render frames.
package domprobe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/treewatch/agent"
)

// Config configures a Probe.
type Config struct {
	// Remote is the DevTools websocket URL of a running Chrome. Empty
	// launches a local headless browser.
	Remote string
	URL    string
	// Selector is the subtree rendered into frames. Default: "body".
	Selector string
	// NavigateTimeout bounds navigation and load. Default: 30s.
	NavigateTimeout time.Duration
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.Selector == "" {
		c.Selector = "body"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Probe is attached to one page.
type Probe struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	nodes   *nodeMap

	mu        sync.Mutex
	observing bool
	records   []agent.MutationRecord

	debugOnce sync.Once
	debugErr  error

	wg sync.WaitGroup
}

// Open connects to (or launches) Chrome, navigates to cfg.URL and starts
// mirroring the DOM.
func Open(ctx context.Context, cfg Config) (*Probe, error) {
	cfg.defaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("domprobe: url is required")
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &Probe{cfg: cfg, logger: cfg.Logger, ctx: pctx, cancel: cancel, nodes: newNodeMap()}

	wsURL := cfg.Remote
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("domprobe: launch: %w", err)
		}
		wsURL = u
		p.lnch = l
		p.logger.Info("domprobe: launched local chrome", "url", wsURL)
	} else {
		p.logger.Info("domprobe: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		p.Close()
		return nil, fmt.Errorf("domprobe: connect: %w", err)
	}
	p.browser = b

	page, err := p.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("domprobe: create tab: %w", err)
	}
	p.page = page

	navCtx, navCancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer navCancel()
	if err := page.Context(navCtx).Navigate(cfg.URL); err != nil {
		p.Close()
		return nil, fmt.Errorf("domprobe: navigate %s: %w", cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		p.logger.Warn("domprobe: wait load timeout", "url", cfg.URL, "error", err)
	}

	if err := (proto.DOMEnable{}).Call(page); err != nil {
		p.Close()
		return nil, fmt.Errorf("domprobe: enable dom: %w", err)
	}
	if err := p.reload(); err != nil {
		p.Close()
		return nil, err
	}

	p.wg.Add(1)
	go p.listen()
	return p, nil
}

// reload fetches the whole document. Depth -1 makes every node trackable:
// CDP only reports mutations on nodes it has sent.
func (p *Probe) reload() error {
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(p.page.Context(p.ctx))
	if err != nil {
		return fmt.Errorf("domprobe: get document: %w", err)
	}
	p.nodes.load(doc.Root)
	return nil
}

func (p *Probe) listen() {
	defer p.wg.Done()
	wait := p.page.Context(p.ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			p.nodes.insert(e.ParentNodeID, e.PreviousNodeID, e.Node)
			p.record(e.ParentNodeID, "childList")
		},
		func(e *proto.DOMChildNodeRemoved) {
			p.record(e.ParentNodeID, "childList")
			p.nodes.remove(e.NodeID)
		},
		func(e *proto.DOMSetChildNodes) {
			p.nodes.setChildren(e.ParentID, e.Nodes)
		},
		func(e *proto.DOMAttributeModified) {
			p.nodes.setAttr(e.NodeID, e.Name, e.Value)
			p.record(e.NodeID, "attributes")
		},
		func(e *proto.DOMAttributeRemoved) {
			p.nodes.removeAttr(e.NodeID, e.Name)
			p.record(e.NodeID, "attributes")
		},
		func(e *proto.DOMCharacterDataModified) {
			p.record(e.NodeID, "characterData")
		},
		func(e *proto.DOMDocumentUpdated) {
			if err := p.reload(); err != nil {
				p.logger.Warn("domprobe: document reload failed", "error", err)
			}
			p.mu.Lock()
			p.records = append(p.records, agent.MutationRecord{Target: p.documentElement(), Kind: "childList"})
			p.mu.Unlock()
		},
	)
	wait()
}

func (p *Probe) record(id proto.DOMNodeID, kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.observing {
		return
	}
	p.records = append(p.records, agent.MutationRecord{Target: Element{probe: p, id: id}, Kind: kind})
}

func (p *Probe) documentElement() agent.Container {
	p.nodes.mu.RLock()
	defer p.nodes.mu.RUnlock()
	if p.nodes.root == 0 {
		return nil
	}
	return Element{probe: p, id: p.nodes.root}
}

// Observe starts collecting mutation records.
func (p *Probe) Observe() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return fmt.Errorf("domprobe: observe: %w", p.ctx.Err())
	}
	p.observing = true
	return nil
}

// TakeRecords drains the collected records.
func (p *Probe) TakeRecords() []agent.MutationRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.records
	p.records = nil
	return out
}

// Disconnect stops collecting and drops pending records.
func (p *Probe) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observing = false
	p.records = nil
}

// Close detaches from the page and releases the browser.
func (p *Probe) Close() error {
	p.cancel()
	p.wg.Wait()
	var err error
	if p.page != nil {
		err = p.page.Close()
	}
	// A remote browser outlives the probe.
	if p.browser != nil && p.lnch != nil {
		if cerr := p.browser.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if p.lnch != nil {
		p.lnch.Kill()
	}
	return err
}
