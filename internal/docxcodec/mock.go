package docxcodec

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	headingPattern = regexp.MustCompile(`(?i)^(heading\s*(\d)|title|subtitle)\s*:\s*(.*)$`)
	listPattern    = regexp.MustCompile(`(?i)^\s*[-*]\s+(.*)$`)
	tablePattern   = regexp.MustCompile(`(?i)^table\s*:\s*(.*)$`)
)

// LineFormatParser is a deterministic Parser implementation for a plain-text
// line-oriented stand-in format: "Heading N: text", "- list item", "Table:
// caption", anything else is a paragraph. No production Word binding was
// available in the retrieved corpus, so this mirrors the style-detection
// approach of the reference parser (heading/list style regex matching)
// without depending on an actual OOXML library.
type LineFormatParser struct{}

// NewLineFormatParser returns the deterministic stand-in Parser.
func NewLineFormatParser() *LineFormatParser {
	return &LineFormatParser{}
}

// Parse implements Parser.
func (p *LineFormatParser) Parse(_ context.Context, sourceKey string, raw []byte) (*ParsedTemplate, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tmpl := &ParsedTemplate{
		ParsedAt:  time.Time{},
		SourceKey: sourceKey,
	}

	section := "body"
	seq := 0
	indent := 0
	path := make([]string, 0, 4)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		switch strings.ToLower(trimmed) {
		case "[header]":
			section = "header"
			continue
		case "[footer]":
			section = "footer"
			continue
		case "[body]":
			section = "body"
			continue
		}

		block := classifyLine(trimmed, &seq, &indent, &path)

		switch section {
		case "header":
			tmpl.Headers = append(tmpl.Headers, block)
		case "footer":
			tmpl.Footers = append(tmpl.Footers, block)
		default:
			tmpl.Blocks = append(tmpl.Blocks, block)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return tmpl, nil
}

func classifyLine(line string, seq *int, indent *int, path *[]string) Block {
	*seq++

	if m := headingPattern.FindStringSubmatch(line); m != nil {
		*path = (*path)[:0]
		*path = append(*path, strings.ToLower(strings.ReplaceAll(m[3], " ", "_")))
		*indent = 0
		return Block{
			Path:     strings.Join(*path, "/"),
			Type:     BlockHeading,
			Text:     m[3],
			Style:    strings.TrimSpace(m[1]),
			Sequence: *seq,
		}
	}
	if m := listPattern.FindStringSubmatch(line); m != nil {
		*indent++
		return Block{
			Path:      fmt.Sprintf("%s/list/%d", strings.Join(*path, "/"), *indent),
			Type:      BlockListItem,
			Text:      m[1],
			Style:     "List Bullet",
			IndentLvl: *indent,
			Sequence:  *seq,
		}
	}
	if m := tablePattern.FindStringSubmatch(line); m != nil {
		return Block{
			Path:     fmt.Sprintf("%s/table", strings.Join(*path, "/")),
			Type:     BlockTable,
			Text:     m[1],
			Style:    "Table Grid",
			Sequence: *seq,
		}
	}
	return Block{
		Path:     fmt.Sprintf("%s/p/%d", strings.Join(*path, "/"), *seq),
		Type:     BlockParagraph,
		Text:     line,
		Style:    "Normal",
		Sequence: *seq,
	}
}

// LineFormatRenderer writes a RenderInput back into the same line-oriented
// stand-in format, so parse(render(x)) round-trips deterministically —
// exercised by the renderer's persist-reload-compare verification.
type LineFormatRenderer struct{}

// NewLineFormatRenderer returns the deterministic stand-in Renderer.
func NewLineFormatRenderer() *LineFormatRenderer {
	return &LineFormatRenderer{}
}

// Render implements Renderer.
func (r *LineFormatRenderer) Render(_ context.Context, input RenderInput) (*RenderOutput, error) {
	var buf bytes.Buffer
	counts := make(map[BlockType]int)

	if len(input.Headers) > 0 {
		buf.WriteString("[header]\n")
		for _, b := range input.Headers {
			writeBlock(&buf, b, counts)
		}
	}
	buf.WriteString("[body]\n")
	for _, b := range input.Blocks {
		writeBlock(&buf, b, counts)
	}
	if len(input.Footers) > 0 {
		buf.WriteString("[footer]\n")
		for _, b := range input.Footers {
			writeBlock(&buf, b, counts)
		}
	}

	out := buf.Bytes()
	sum := sha256.Sum256(out)
	return &RenderOutput{
		Bytes:           out,
		ContentHash:     hex.EncodeToString(sum[:]),
		FileSize:        int64(len(out)),
		BlockTypeCounts: counts,
	}, nil
}

func writeBlock(buf *bytes.Buffer, b RenderBlock, counts map[BlockType]int) {
	counts[b.Type]++
	switch b.Type {
	case BlockHeading:
		level := "1"
		if strings.HasPrefix(strings.ToLower(b.Style), "heading") {
			level = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(b.Style), "heading"))
		}
		fmt.Fprintf(buf, "Heading %s: %s\n", level, b.Text)
	case BlockListItem:
		fmt.Fprintf(buf, "- %s\n", b.Text)
	case BlockTable:
		fmt.Fprintf(buf, "Table: %s\n", b.Text)
	default:
		fmt.Fprintf(buf, "%s\n", b.Text)
	}
}
