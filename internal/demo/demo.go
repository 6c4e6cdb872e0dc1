// Package demo is a synthetic instrumented application: a todo list that
// mutates itself on every step and renders through the agent.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/internal/render"
	"github.com/hazyhaar/treewatch/wire"
)

// Config configures an App.
type Config struct {
	Agent    *agent.Agent
	Surface  *Surface
	Interval time.Duration
	Seed     uint64
	// MaxItems caps the list. Default: 12.
	MaxItems int
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Surface == nil {
		c.Surface = &Surface{}
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 12
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type item struct {
	id    int
	title string
	done  bool
	box   *box
}

// App owns the synthetic state. Step and Run must not be called
// concurrently.
type App struct {
	cfg      Config
	renderer *render.Renderer
	rng      *rand.Rand

	root, header, list, footer *box
	items                      []*item
	nextItem                   int
	filter                     string

	// pending surface changes, flushed while the next frame commits
	pending  []agent.MutationRecord
	rendered bool
}

// New builds the initial state. Nothing is rendered until Step.
func New(cfg Config) *App {
	cfg.defaults()
	d := &App{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		filter: "all",
	}
	d.root = &box{name: "#app"}
	d.header = &box{name: "header", parent: d.root}
	d.list = &box{name: "ul", parent: d.root}
	d.footer = &box{name: "footer", parent: d.root, onClick: "demo.js:40:2"}
	d.renderer = render.New(cfg.Agent, d.root)
	for range 3 {
		d.addItem()
	}
	return d
}

// Surface returns the mutation observer to hand to the agent.
func (d *App) Surface() *Surface { return d.cfg.Surface }

func (d *App) addItem() {
	d.nextItem++
	it := &item{id: d.nextItem, title: fmt.Sprintf("task %d", d.nextItem)}
	it.box = &box{name: "li", parent: d.list, onClick: fmt.Sprintf("demo.js:%d:4", 10+it.id)}
	d.items = append(d.items, it)
	d.touch(d.list, "childList")
}

func (d *App) touch(b *box, kind string) {
	d.pending = append(d.pending, agent.MutationRecord{Target: b, Kind: kind})
}

func (d *App) flush() {
	for _, r := range d.pending {
		d.cfg.Surface.touch(r.Target.(*box), r.Kind)
	}
	d.pending = nil
}

// mutate applies one random change.
func (d *App) mutate() string {
	switch n := d.rng.IntN(5); {
	case n == 0 && len(d.items) < d.cfg.MaxItems, len(d.items) == 0:
		d.addItem()
		return "add"
	case n == 1 && len(d.items) > 1:
		i := d.rng.IntN(len(d.items))
		d.items = append(d.items[:i], d.items[i+1:]...)
		d.touch(d.list, "childList")
		return "remove"
	case n == 2 && len(d.items) > 1:
		d.rng.Shuffle(len(d.items), func(i, j int) { d.items[i], d.items[j] = d.items[j], d.items[i] })
		d.touch(d.list, "childList")
		return "shuffle"
	case n == 3:
		d.filter = map[string]string{"all": "active", "active": "done", "done": "all"}[d.filter]
		d.touch(d.footer, "attributes")
		return "filter"
	default:
		it := d.items[d.rng.IntN(len(d.items))]
		it.done = !it.done
		d.touch(it.box, "attributes")
		return "toggle"
	}
}

// Step mutates the state (except before the first frame) and renders it.
// It returns the pass's correlation token.
func (d *App) Step() string {
	action := "initial"
	if d.rendered {
		action = d.mutate()
	}
	d.rendered = true
	token := d.renderer.Render(d.frame())
	d.cfg.Logger.Debug("demo: step", "token", token, "action", action, "items", len(d.items))
	return token
}

// Run steps every Interval until ctx is done.
func (d *App) Run(ctx context.Context) error {
	t := time.NewTicker(d.cfg.Interval)
	defer t.Stop()
	d.Step()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.Step()
		}
	}
}

func (d *App) frame() []*render.Element {
	remaining := 0
	items := make([]*render.Element, 0, len(d.items))
	for _, it := range d.items {
		if !it.done {
			remaining++
		}
		it.box.hidden = (d.filter == "active" && it.done) || (d.filter == "done" && !it.done)
		items = append(items, &render.Element{
			Key:        it,
			Name:       "TodoItem",
			Kind:       wire.KindComponent,
			Instance:   it.box,
			Containers: []agent.Container{it.box},
			Options:    map[string]any{"id": it.id},
			State:      map[string]any{"title": it.title, "done": it.done},
		})
	}

	return []*render.Element{{
		Key:        d.root,
		Name:       "App",
		Work:       d.flush,
		Kind:       wire.KindContainer,
		Containers: []agent.Container{d.root},
		Children: []*render.Element{
			{Key: d.header, Name: "Header", Kind: wire.KindComponent, Containers: []agent.Container{d.header},
				Options: map[string]any{"title": "todos"}},
			{Key: d.list, Name: "TodoList", Kind: wire.KindPassThrough, Containers: []agent.Container{d.list},
				Children: items},
			{Key: d.footer, Name: "Footer", Kind: wire.KindComponent, Instance: d.footer, Containers: []agent.Container{d.footer},
				State: map[string]any{"remaining": remaining, "filter": d.filter}},
		},
	}}
}
