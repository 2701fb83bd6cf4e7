package search

import "github.com/poiesic/tributary/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(tenantID, query string)
	AfterSemanticSearch(chunks []*core.SearchResult)
	VerbatimHit(doc *core.Document)
	Finish(results []*Hit)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                          {}
func (n *noopMonitor) AfterSemanticSearch(_ []*core.SearchResult) {}
func (n *noopMonitor) VerbatimHit(_ *core.Document)               {}
func (n *noopMonitor) Finish(_ []*Hit)                            {}
