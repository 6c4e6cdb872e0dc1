package agent

import (
	"log/slog"

	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/clock"
	"github.com/hazyhaar/treewatch/idgen"
	"github.com/hazyhaar/treewatch/inspect"
)

// Config is the context an Agent is built from. Every collaborator is
// injected here; the agent keeps no package-level state.
type Config struct {
	// Bridge carries operations to observers. Nil drops them.
	Bridge bridge.Bridge
	Logger *slog.Logger
	Clock  clock.Clock

	// Tokens generates endSynchronization correlation tokens.
	Tokens idgen.Generator
	// BreakpointIDs generates breakpoint ids.
	BreakpointIDs idgen.Generator

	Serializer inspect.Serializer
	Debugger   Debugger
	Observer   MutationObserver

	// Profiling enables mutation attribution and profile retention.
	Profiling   bool
	MaxProfiles int
	// InspectDepth bounds the default Serializer.
	InspectDepth int
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Tokens == nil {
		c.Tokens = idgen.Default
	}
	if c.BreakpointIDs == nil {
		c.BreakpointIDs = idgen.Prefixed("bp_", idgen.NanoID(12))
	}
	if c.Serializer == nil {
		c.Serializer = inspect.New(c.InspectDepth)
	}
	if c.MaxProfiles <= 0 {
		c.MaxProfiles = 32
	}
}
