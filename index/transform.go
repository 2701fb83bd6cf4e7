package index

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/tributary/core"
)

// Transformer renders an artifact as a searchable document. Chunks and
// IndexedAt are filled in by the indexer.
type Transformer interface {
	Transform(a *core.Artifact) (*core.Document, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(a *core.Artifact) (*core.Document, error)

// Transform calls f.
func (f TransformerFunc) Transform(a *core.Artifact) (*core.Document, error) {
	return f(a)
}

// Transformers dispatches on the artifact's source.
type Transformers map[core.Source]Transformer

// DefaultTransformers covers every known source.
func DefaultTransformers() Transformers {
	return Transformers{
		core.SourceAttioCompany:     TransformerFunc(attioTransform("Company")),
		core.SourceAttioPerson:      TransformerFunc(attioTransform("Person")),
		core.SourceAttioDeal:        TransformerFunc(attioTransform("Deal")),
		core.SourcePostHogDashboard: TransformerFunc(posthogTransform("Dashboard")),
		core.SourcePostHogInsight:   TransformerFunc(posthogTransform("Insight")),
	}
}

// Transform looks up the source's transformer and applies it.
func (t Transformers) Transform(a *core.Artifact) (*core.Document, error) {
	tr, ok := t[a.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransformer, a.Source)
	}
	doc, err := tr.Transform(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransform, a.EntityID, err)
	}
	return doc, nil
}

func newDocument(a *core.Artifact, title, content string, metadata map[string]string) *core.Document {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["record_id"] = a.RecordID
	return &core.Document{
		EntityID:        a.EntityID,
		TenantID:        a.TenantID,
		Source:          a.Source,
		Partition:       a.Partition,
		Title:           title,
		Content:         content,
		Metadata:        metadata,
		SourceUpdatedAt: a.SourceUpdatedAt,
	}
}

// Attio records carry their attributes under "values", each a list of
// typed value objects.
type attioRecord struct {
	Values map[string][]map[string]any `json:"values"`
}

var attioTitleAttributes = []string{"name", "full_name", "title", "domains", "email_addresses"}

func attioTransform(label string) func(a *core.Artifact) (*core.Document, error) {
	return func(a *core.Artifact) (*core.Document, error) {
		var rec attioRecord
		if err := json.Unmarshal(a.Content, &rec); err != nil {
			return nil, err
		}

		attrs := make([]string, 0, len(rec.Values))
		for k := range rec.Values {
			attrs = append(attrs, k)
		}
		slices.Sort(attrs)

		title := ""
		for _, k := range attioTitleAttributes {
			if v := attioValues(rec.Values[k]); v != "" {
				title = v
				break
			}
		}
		if title == "" {
			title = label + " " + a.RecordID
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s\n", label, title)
		for _, k := range attrs {
			if v := attioValues(rec.Values[k]); v != "" {
				fmt.Fprintf(&b, "%s: %s\n", k, v)
			}
		}
		writeSubResources(&b, a.SubResources)
		return newDocument(a, title, strings.TrimSpace(b.String()), map[string]string{"type": strings.ToLower(label)}), nil
	}
}

func attioValues(values []map[string]any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if s := attioValue(v); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func attioValue(v map[string]any) string {
	for _, k := range []string{"full_name", "value", "email_address", "domain", "original_phone_number", "currency_value", "locality"} {
		if s := scalar(v[k]); s != "" {
			return s
		}
	}
	for _, k := range []string{"option", "status"} {
		if nested, ok := v[k].(map[string]any); ok {
			if s := scalar(nested["title"]); s != "" {
				return s
			}
		}
	}
	return ""
}

type posthogItem struct {
	Name        string   `json:"name"`
	DerivedName string   `json:"derived_name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Query       struct {
		Kind   string `json:"kind"`
		Source struct {
			Kind string `json:"kind"`
		} `json:"source"`
	} `json:"query"`
	Tiles []struct {
		Insight *struct {
			Name string `json:"name"`
		} `json:"insight"`
	} `json:"tiles"`
}

func posthogTransform(label string) func(a *core.Artifact) (*core.Document, error) {
	return func(a *core.Artifact) (*core.Document, error) {
		var item posthogItem
		if err := json.Unmarshal(a.Content, &item); err != nil {
			return nil, err
		}
		title := cmp.Or(item.Name, item.DerivedName, label+" "+a.RecordID)

		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s\n", label, title)
		if item.Description != "" {
			fmt.Fprintf(&b, "description: %s\n", item.Description)
		}
		if len(item.Tags) > 0 {
			fmt.Fprintf(&b, "tags: %s\n", strings.Join(item.Tags, ", "))
		}
		if kind := cmp.Or(item.Query.Source.Kind, item.Query.Kind); kind != "" {
			fmt.Fprintf(&b, "query: %s\n", kind)
		}
		for _, tile := range item.Tiles {
			if tile.Insight != nil && tile.Insight.Name != "" {
				fmt.Fprintf(&b, "insight: %s\n", tile.Insight.Name)
			}
		}
		metadata := map[string]string{"type": strings.ToLower(label), "project_id": a.Partition}
		return newDocument(a, title, strings.TrimSpace(b.String()), metadata), nil
	}
}

// writeSubResources appends the text of notes, tasks and similar records.
func writeSubResources(b *strings.Builder, subs map[string][]json.RawMessage) {
	kinds := make([]string, 0, len(subs))
	for k := range subs {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		for _, raw := range subs[kind] {
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			text := cmp.Or(scalar(m["content_plaintext"]), scalar(m["content"]))
			title := scalar(m["title"])
			switch {
			case title != "" && text != "":
				fmt.Fprintf(b, "%s: %s - %s\n", kind, title, text)
			case title != "" || text != "":
				fmt.Fprintf(b, "%s: %s%s\n", kind, title, text)
			}
		}
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
