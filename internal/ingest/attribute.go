package ingest

import (
	"github.com/JakeFAU/importscout/internal/agent"
	"github.com/JakeFAU/importscout/internal/lead"
)

// DefaultSourceTitle labels citations that arrive without a title.
const DefaultSourceTitle = "Web Source"

// Attribute converts grounding chunks into an ordered source list. Chunks
// without a web reference are skipped. The list is shared by every lead in the
// run; citations are not correlated to individual companies.
func Attribute(chunks []agent.GroundingChunk) []lead.Source {
	sources := make([]lead.Source, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Web == nil {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = DefaultSourceTitle
		}
		sources = append(sources, lead.Source{Title: title, URI: chunk.Web.URI})
	}
	return sources
}
