package mockserver

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog maps plugin ids to the output lines a run of that plugin produces
type Catalog map[string][]string

// DefaultCatalog holds the plugins every mock server knows
func DefaultCatalog() Catalog {
	return Catalog{
		"plugin_hello": {
			"Loading plugin_hello",
			"Hello from plugin_hello!",
		},
	}
}

// Merge returns a catalog with extra's entries added over c's
func (c Catalog) Merge(extra map[string][]string) Catalog {
	out := make(Catalog, len(c)+len(extra))
	for id, lines := range c {
		out[id] = lines
	}
	for id, lines := range extra {
		out[id] = lines
	}
	return out
}

func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// render expands {param} placeholders in a line with the request parameters
func render(line string, params map[string]any) string {
	if len(params) == 0 || !strings.Contains(line, "{") {
		return line
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(line)
}
