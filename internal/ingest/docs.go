package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"dataghost/internal/logging"
	"dataghost/internal/types"
)

var docExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".html":     true,
	".htm":      true,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// SupportedDocument reports whether the filename carries an ingestible
// context-document extension.
func SupportedDocument(filename string) bool {
	return docExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IngestDocument extracts text from the upload, chunks it, embeds each
// chunk, and stores the result. A document with the same filename replaces
// the previous version wholesale.
func (in *Ingestor) IngestDocument(ctx context.Context, filename string, data []byte) (*types.DocMeta, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "IngestDocument")
	defer timer.StopWithInfo(filename)

	ext := strings.ToLower(filepath.Ext(filename))
	if !docExtensions[ext] {
		return nil, fmt.Errorf("unsupported document type %q (accepted: .md, .markdown, .txt, .html, .htm)", ext)
	}

	text := string(data)
	if ext == ".html" || ext == ".htm" {
		extracted, err := extractHTMLText(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML document: %w", err)
		}
		text = extracted
	}

	pieces := chunkText(text, in.chunkSize, in.overlap)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("document is empty after extraction")
	}

	docID := uuid.NewString()
	chunks := make([]types.ContextChunk, 0, len(pieces))
	for i, piece := range pieces {
		vec, err := in.engine.Embed(ctx, piece)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		chunks = append(chunks, types.ContextChunk{
			ChunkID:    fmt.Sprintf("%s:%d", docID, i),
			DocID:      docID,
			Filename:   filepath.Base(filename),
			ChunkIndex: i,
			Content:    piece,
			Embedding:  vec,
		})
	}

	doc := &types.DocMeta{
		ID:       docID,
		Filename: filepath.Base(filename),
		Bytes:    len(data),
	}
	if err := in.store.SaveDocument(ctx, doc, chunks); err != nil {
		return nil, err
	}

	logging.Ingest("Document ingested: file=%s bytes=%d chunks=%d", doc.Filename, doc.Bytes, len(chunks))
	return doc, nil
}

// chunkText collapses whitespace runs to single spaces, then cuts the text
// into rune windows of size with the given overlap. Whitespace-only windows
// are dropped.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " "))
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// extractHTMLText strips markup and returns the visible text with collapsed
// whitespace. Script-like subtrees are skipped entirely.
func extractHTMLText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	collectHTMLText(doc, &sb, 0)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(sb.String(), " ")), nil
}

func collectHTMLText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return // Prevent excessive recursion
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg":
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectHTMLText(c, sb, depth+1)
	}
}
