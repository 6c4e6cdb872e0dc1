package store

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/hazyhaar/treewatch/prefs"
	"github.com/hazyhaar/treewatch/wire"
)

// Search returns the ids of mirrored nodes whose name matches query, in
// list order. Matching is a case-insensitive substring test, or a
// case-insensitive regular expression when query is wrapped in slashes.
func (s *Store) Search(query string) ([]wire.ID, error) {
	if query == "" {
		return nil, nil
	}
	match := func(name string) bool {
		return strings.Contains(strings.ToLower(name), strings.ToLower(query))
	}
	if len(query) > 2 && strings.HasPrefix(query, "/") && strings.HasSuffix(query, "/") {
		re, err := regexp.Compile("(?i)" + query[1:len(query)-1])
		if err != nil {
			return nil, fmt.Errorf("store: search: %w", err)
		}
		match = re.MatchString
	}

	var ids []wire.ID
	for _, n := range s.Elements() {
		if match(n.Name) {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}

// Pinned returns the pinned node names.
func (s *Store) Pinned(ctx context.Context) ([]string, error) {
	var names []string
	if _, err := prefs.GetJSON(ctx, s.cfg.Prefs, prefs.KeyPinned, &names); err != nil {
		return nil, fmt.Errorf("store: pinned: %w", err)
	}
	return names, nil
}

// Pin adds name to the pinned list. Names are kept rather than ids, which
// do not survive a session.
func (s *Store) Pin(ctx context.Context, name string) error {
	names, err := s.Pinned(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(names, name) {
		return nil
	}
	return prefs.SetJSON(ctx, s.cfg.Prefs, prefs.KeyPinned, append(names, name))
}

// Unpin removes name from the pinned list.
func (s *Store) Unpin(ctx context.Context, name string) error {
	names, err := s.Pinned(ctx)
	if err != nil {
		return err
	}
	i := slices.Index(names, name)
	if i < 0 {
		return nil
	}
	return prefs.SetJSON(ctx, s.cfg.Prefs, prefs.KeyPinned, slices.Delete(names, i, i+1))
}
