// Package agent describes the external search agent and the request sent to it.
package agent

import "context"

// Agent answers a single instruction with free text plus grounding metadata.
type Agent interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Request carries the rendered instruction for one ingestion run.
type Request struct {
	Prompt string
}

// Response is the raw agent answer. Text is untrusted and loosely structured.
type Response struct {
	Text      string
	Grounding []GroundingChunk
}

// GroundingChunk is one citation returned alongside the answer. Web is nil for
// chunks that reference something other than a web page (maps, retrieval).
type GroundingChunk struct {
	Web *WebReference
}

// WebReference points at the page backing a grounding chunk.
type WebReference struct {
	Title string
	URI   string
}
