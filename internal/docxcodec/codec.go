package docxcodec

import "context"

// Parser extracts a ParsedTemplate from a raw source document.
// Composition root binds the production implementation; no Go Word-document
// parsing library was available to ground one, so only Parser/Renderer
// interfaces and deterministic implementations are provided.
type Parser interface {
	Parse(ctx context.Context, sourceKey string, raw []byte) (*ParsedTemplate, error)
}

// Renderer writes an ordered RenderInput into a binary document.
type Renderer interface {
	Render(ctx context.Context, input RenderInput) (*RenderOutput, error)
}

// Codec bundles Parser and Renderer, the unit composition root wires.
type Codec interface {
	Parser
	Renderer
}
