// Package docxcodec abstracts Word document parsing and rendering behind
// narrow interfaces. No production Word codec library is pulled in here:
// composition root wires a deterministic implementation until a real
// binding is selected. Anti-Corruption Layer, same shape as the teacher's
// provider package.
package docxcodec

import "time"

// BlockType classifies a parsed structural block.
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockListItem  BlockType = "list_item"
	BlockTable     BlockType = "table"
)

// Block is one structural unit extracted from a source template.
type Block struct {
	Path       string            // dot/slash path identifying position in the document tree
	Type       BlockType
	Text       string
	Style      string
	Alignment  string
	IndentLvl  int
	SpaceAfter float64
	Sequence   int
	Attributes map[string]string
}

// ParsedTemplate is the root structural artifact produced by Parse.
type ParsedTemplate struct {
	Blocks    []Block
	Headers   []Block
	Footers   []Block
	ParsedAt  time.Time
	SourceKey string
}

// RenderBlock is one block the Renderer writes into the output binary.
// Mirrors Block but carries resolved (generated or static) content instead
// of a raw parse.
type RenderBlock struct {
	Path      string
	Type      BlockType
	Text      string
	Style     string
	Alignment string
	IndentLvl int
	Sequence  int
}

// RenderInput is the full ordered structure handed to a Renderer.
type RenderInput struct {
	Blocks  []RenderBlock
	Headers []RenderBlock
	Footers []RenderBlock
}

// RenderOutput is the binary artifact plus bookkeeping metadata.
type RenderOutput struct {
	Bytes           []byte
	ContentHash     string
	FileSize        int64
	BlockTypeCounts map[BlockType]int
}
