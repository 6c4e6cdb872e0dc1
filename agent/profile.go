package agent

import (
	"github.com/hazyhaar/treewatch/wire"
)

// profileRing retains the last n profiles by correlation token.
type profileRing struct {
	max     int
	order   []string
	byToken map[string]wire.Profile
}

func newProfileRing(max int) *profileRing {
	return &profileRing{max: max, byToken: make(map[string]wire.Profile)}
}

func (r *profileRing) put(p wire.Profile) {
	if _, ok := r.byToken[p.Token]; !ok {
		r.order = append(r.order, p.Token)
	}
	r.byToken[p.Token] = p
	for len(r.order) > r.max {
		delete(r.byToken, r.order[0])
		r.order = r.order[1:]
	}
}

// get returns the profile for token, or a not-found profile.
func (r *profileRing) get(token string) wire.Profile {
	p, ok := r.byToken[token]
	if !ok {
		return wire.Profile{Token: token}
	}
	return p
}

// captureProfileLocked drains the mutation observer, attributes each
// record to the node owning the nearest enclosing container and retains
// the pass under token.
func (a *Agent) captureProfileLocked(token string, p *pass, nodes []wire.ProfileNode) {
	var records []MutationRecord
	if a.observing {
		records = a.cfg.Observer.TakeRecords()
		if len(a.roots) == 0 {
			a.cfg.Observer.Disconnect()
			a.observing = false
		}
	}

	changed := make(map[wire.ID]bool)
	visible := make(map[wire.ID]bool)
	for _, rec := range records {
		for c := rec.Target; c != nil; c = c.Parent() {
			if id, ok := a.containerOwner[c]; ok {
				changed[id] = true
				visible[id] = visible[id] || rec.Target.Visible()
				break
			}
		}
	}
	for i := range nodes {
		nodes[i].DomChanged = changed[nodes[i].ID]
		nodes[i].Visible = visible[nodes[i].ID]
	}

	prof := wire.Profile{
		Token:     token,
		Found:     true,
		Nodes:     nodes,
		Mutations: len(records),
	}
	if id, ok := a.idByRef[p.root]; ok && p.root != nil {
		prof.RootID = id
	}
	a.profiles.put(prof)
	a.logger.Debug("agent: profile retained", "token", token, "nodes", len(nodes), "mutations", len(records))
}

// Profile returns the profile retained under token.
func (a *Agent) Profile(token string) (wire.Profile, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.profiles.get(token)
	return p, p.Found
}
