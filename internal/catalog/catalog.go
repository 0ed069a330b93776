// Package catalog loads the item catalog: which items exist, which
// groups and states they're valid in, and which states are rejected
// outright as noise. The catalog file is decoded with jsoniter, a
// drop-in, faster replacement for encoding/json's Unmarshal.
package catalog

import (
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/jtomasevic/sharly/internal/errs"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type itemEntry struct {
	Name   string      `json:"name"`
	Groups stringSetJS `json:"groups"`
	States stringSetJS `json:"states"`
}

type conditionEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type document struct {
	Items          []itemEntry      `json:"items"`
	Conditions     []conditionEntry `json:"conditions"`
	RejectedStates []string         `json:"rejected_states"`
}

// stringSetJS decodes a JSON field that may be either a single string or
// an array of strings into a slice, so catalog entries with one group or
// state don't need to be wrapped in an array.
type stringSetJS []string

func (s *stringSetJS) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 0 || trimmed == "null" {
		*s = nil
		return nil
	}

	if trimmed[0] == '"' {
		var single string
		if err := jsonAPI.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = []string{single}
		return nil
	}

	var many []string
	if err := jsonAPI.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type itemInfo struct {
	groups map[string]struct{}
	states map[string]struct{}
}

// Catalog answers validity and grouping questions about items: which
// group(s) and state(s) an item belongs to, and which states are
// rejected outright as noise.
type Catalog struct {
	items          map[string]itemInfo
	conditionTypes map[string]string
	rejectedStates map[string]struct{}
}

// Load reads and parses the catalog JSON file at path.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.CatalogError{Path: path, Err: err}
	}

	var doc document
	if err := jsonAPI.Unmarshal(raw, &doc); err != nil {
		return nil, &errs.CatalogError{Path: path, Err: err}
	}

	c := &Catalog{
		items:          make(map[string]itemInfo, len(doc.Items)),
		conditionTypes: make(map[string]string, len(doc.Conditions)),
		rejectedStates: make(map[string]struct{}, len(doc.RejectedStates)),
	}

	for _, item := range doc.Items {
		if item.Name == "" {
			return nil, &errs.CatalogError{Path: path, Err: errMissingItemName}
		}
		c.items[item.Name] = itemInfo{
			groups: toSet(item.Groups),
			states: toSet(item.States),
		}
	}

	for _, cond := range doc.Conditions {
		if cond.Name == "" || cond.Type == "" {
			return nil, &errs.CatalogError{Path: path, Err: errMissingConditionFields}
		}
		c.conditionTypes[cond.Name] = strings.ToUpper(cond.Type)
	}

	for _, state := range doc.RejectedStates {
		c.rejectedStates[state] = struct{}{}
	}

	return c, nil
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// Groups returns the union of every item's groups.
func (c *Catalog) Groups() []string {
	seen := make(map[string]struct{})
	for _, info := range c.items {
		for g := range info.groups {
			seen[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	return out
}

// GetItemGroups returns the groups an item belongs to, or nil if unknown.
func (c *Catalog) GetItemGroups(itemName string) map[string]struct{} {
	return c.items[itemName].groups
}

// GetItemStates returns the accepted states for an item, or nil if unknown.
func (c *Catalog) GetItemStates(itemName string) map[string]struct{} {
	return c.items[itemName].states
}

// ConditionType returns the configured condition kind name for an
// associated-item condition definition, and whether one was configured.
func (c *Catalog) ConditionType(name string) (string, bool) {
	t, ok := c.conditionTypes[name]
	return t, ok
}

// IsValid reports whether (itemName, oldState, newState) is acceptable
// for learning, optionally scoped to group: the item must be known,
// neither state may be a rejected noise state, the new state must be one
// of the item's accepted states, and if group is non-empty the item must
// belong to it.
func (c *Catalog) IsValid(itemName, oldState, newState, group string) bool {
	info, ok := c.items[itemName]
	if !ok {
		return false
	}

	if _, rejected := c.rejectedStates[oldState]; rejected {
		return false
	}
	if _, rejected := c.rejectedStates[newState]; rejected {
		return false
	}

	if _, accepted := info.states[newState]; !accepted {
		return false
	}

	if group != "" {
		if _, ok := info.groups[group]; !ok {
			return false
		}
	}

	return true
}

var (
	errMissingItemName        = catalogErr("item entry missing \"name\"")
	errMissingConditionFields = catalogErr("condition entry missing \"name\" or \"type\"")
)

type catalogErr string

func (e catalogErr) Error() string { return string(e) }
