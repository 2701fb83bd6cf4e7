package index

import (
	"encoding/json"
	"testing"

	"github.com/poiesic/tributary/core"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifact(source core.Source, partition, recordID, content string) *core.Artifact {
	return &core.Artifact{
		EntityID:  core.EntityID(source, partition, recordID),
		TenantID:  "t1",
		Source:    source,
		Partition: partition,
		RecordID:  recordID,
		Content:   json.RawMessage(content),
	}
}

func TestTransformers_AttioDeal(t *testing.T) {
	a := artifact(core.SourceAttioDeal, "", "d1", `{
		"id": {"record_id": "d1"},
		"values": {
			"name": [{"value": "Acme renewal"}],
			"stage": [{"status": {"title": "Negotiation"}}],
			"value": [{"currency_value": 12000}]
		}
	}`)
	a.SubResources = map[string][]json.RawMessage{
		"notes": {json.RawMessage(`{"title":"Call","content_plaintext":"Asked for discount"}`)},
		"tasks": {json.RawMessage(`{"content_plaintext":"Send contract"}`)},
	}

	doc, err := DefaultTransformers().Transform(a)
	require.NoError(t, err)
	assert.Equal(t, "Acme renewal", doc.Title)
	assert.Equal(t, a.EntityID, doc.EntityID)
	assert.Equal(t, "deal", doc.Metadata["type"])
	assert.Contains(t, doc.Content, "stage: Negotiation")
	assert.Contains(t, doc.Content, "value: 12000")
	assert.Contains(t, doc.Content, "notes: Call - Asked for discount")
	assert.Contains(t, doc.Content, "tasks: Send contract")
}

func TestTransformers_AttioPersonWithoutName(t *testing.T) {
	a := artifact(core.SourceAttioPerson, "", "p1", `{"values":{"email_addresses":[{"email_address":"ada@example.com"}]}}`)

	doc, err := DefaultTransformers().Transform(a)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", doc.Title)
}

func TestTransformers_PostHogInsight(t *testing.T) {
	a := artifact(core.SourcePostHogInsight, "42", "i1", `{
		"name": "",
		"derived_name": "Pageview count",
		"description": "Weekly traffic",
		"tags": ["growth", "web"],
		"query": {"kind": "InsightVizNode", "source": {"kind": "TrendsQuery"}}
	}`)

	doc, err := DefaultTransformers().Transform(a)
	require.NoError(t, err)
	assert.Equal(t, "Pageview count", doc.Title)
	assert.Equal(t, "42", doc.Partition)
	assert.Equal(t, "42", doc.Metadata["project_id"])
	assert.Contains(t, doc.Content, "tags: growth, web")
	assert.Contains(t, doc.Content, "query: TrendsQuery")
}

func TestTransformers_Errors(t *testing.T) {
	_, err := DefaultTransformers().Transform(artifact(core.SourceAttioCompany, "", "c1", `not json`))
	assert.ErrorIs(t, err, ErrTransform)

	_, err = Transformers{}.Transform(artifact(core.SourceAttioCompany, "", "c1", `{}`))
	assert.ErrorIs(t, err, ErrNoTransformer)
}

func TestTransformers_Golden(t *testing.T) {
	deal := artifact(core.SourceAttioDeal, "", "d1", `{"values":{
		"value": [{"currency_value": 12000}],
		"stage": [{"status": {"title": "Negotiation"}}],
		"name": [{"value": "Acme renewal"}]
	}}`)
	deal.SubResources = map[string][]json.RawMessage{
		"tasks": {json.RawMessage(`{"content_plaintext":"Send contract"}`)},
		"notes": {json.RawMessage(`{"title":"Call","content_plaintext":"Asked for discount"}`)},
	}
	dashboard := artifact(core.SourcePostHogDashboard, "42", "7", `{
		"name": "Growth",
		"description": "Main KPIs",
		"tags": ["kpi", "weekly"],
		"tiles": [{"insight": {"name": "Signups"}}, {"insight": null}, {"insight": {"name": "Retention"}}]
	}`)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"))
	for name, a := range map[string]*core.Artifact{
		"attio_deal":        deal,
		"posthog_dashboard": dashboard,
	} {
		t.Run(name, func(t *testing.T) {
			doc, err := DefaultTransformers().Transform(a)
			require.NoError(t, err)
			g.Assert(t, name, []byte(doc.Content))
		})
	}
}
