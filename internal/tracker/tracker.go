// Package tracker records what a run did to a single document: before/after
// frontmatter snapshots, the ordered changes that were applied, and the
// diagnostics for operations that were skipped.
package tracker

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Change is one applied property operation. Only the fields relevant to the
// action are set; the summary prints set fields only.
type Change struct {
	Action      string      `json:"action"`
	OldProperty string      `json:"old_property,omitempty"`
	NewProperty string      `json:"new_property,omitempty"`
	OldValue    interface{} `json:"old_value,omitempty"`
	NewValue    interface{} `json:"new_value,omitempty"`
}

// Tracker accumulates the change log for one document. Changes and logs are
// append-only and keep insertion order. The frontmatter snapshots are deep
// copies: the live document keeps mutating between snapshot and persistence,
// so they must never alias it.
type Tracker struct {
	filename       string
	oldFrontmatter map[string]interface{}
	newFrontmatter map[string]interface{}
	changes        []Change
	logs           []string
}

// New creates a tracker for the named document.
func New(filename string) *Tracker {
	return &Tracker{filename: filename}
}

// Filename returns the tracked document's name.
func (t *Tracker) Filename() string {
	return t.filename
}

// SetOldFrontmatter stores a deep copy of the pre-run metadata state.
func (t *Tracker) SetOldFrontmatter(fm map[string]interface{}) {
	t.oldFrontmatter = deepCopyMap(fm)
}

// SetNewFrontmatter stores a deep copy of the post-run metadata state.
func (t *Tracker) SetNewFrontmatter(fm map[string]interface{}) {
	t.newFrontmatter = deepCopyMap(fm)
}

// OldFrontmatter returns the pre-run snapshot (nil when never set).
func (t *Tracker) OldFrontmatter() map[string]interface{} {
	return t.oldFrontmatter
}

// NewFrontmatter returns the post-run snapshot (nil when never set).
func (t *Tracker) NewFrontmatter() map[string]interface{} {
	return t.newFrontmatter
}

// AddChange appends an applied change. No deduplication: the order of calls
// is the order of application.
func (t *Tracker) AddChange(c Change) {
	t.changes = append(t.changes, c)
}

// AddLog appends a diagnostic message for a skipped or no-op operation.
func (t *Tracker) AddLog(message string) {
	t.logs = append(t.logs, message)
}

// Changes returns the applied changes in insertion order.
func (t *Tracker) Changes() []Change {
	return t.changes
}

// Logs returns the diagnostics in insertion order.
func (t *Tracker) Logs() []string {
	return t.logs
}

// Summary renders the tracker in a fixed order: filename header, old
// frontmatter, new frontmatter, changes, logs. Purely presentational.
func (t *Tracker) Summary() string {
	var b strings.Builder
	rule := strings.Repeat("=", 40)

	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Summary for File: %s\n", t.filename)
	b.WriteString(rule + "\n")

	writeFrontmatter(&b, "[Old Frontmatter]", t.oldFrontmatter)
	writeFrontmatter(&b, "[New Frontmatter]", t.newFrontmatter)

	if len(t.changes) > 0 {
		b.WriteString("\n[Changes]\n")
		for _, c := range t.changes {
			fmt.Fprintf(&b, "Action: %s\n", c.Action)
			if c.OldProperty != "" {
				fmt.Fprintf(&b, "  Old Property: %s\n", c.OldProperty)
			}
			if c.NewProperty != "" {
				fmt.Fprintf(&b, "  New Property: %s\n", c.NewProperty)
			}
			if c.OldValue != nil {
				fmt.Fprintf(&b, "  Old Value: %v\n", c.OldValue)
			}
			if c.NewValue != nil {
				fmt.Fprintf(&b, "  New Value: %v\n", c.NewValue)
			}
			b.WriteString(strings.Repeat("-", 20) + "\n")
		}
	}

	if len(t.logs) > 0 {
		b.WriteString("\n[Logs]\n")
		for _, log := range t.logs {
			fmt.Fprintf(&b, " - %s\n", log)
		}
	}

	return b.String()
}

func writeFrontmatter(b *strings.Builder, header string, fm map[string]interface{}) {
	if len(fm) == 0 {
		fmt.Fprintf(b, "\n%s None\n", header)
		return
	}
	out, err := yaml.Marshal(fm)
	if err != nil {
		fmt.Fprintf(b, "\n%s <unrenderable: %v>\n", header, err)
		return
	}
	fmt.Fprintf(b, "\n%s\n%s", header, out)
}

// deepCopyMap copies a frontmatter mapping including nested maps and slices,
// so the copy is fully independent of the source.
func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(tv)
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, item := range tv {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
