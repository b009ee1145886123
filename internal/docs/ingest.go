package docs

import (
	"strings"
	"unicode"
)

// Chunking parameters. Overlap keeps a sentence that straddles a boundary
// visible in both chunks.
const (
	chunkSize    = 600
	chunkOverlap = 80
	chunkMinimum = 40
)

// Chunk splits extracted text into overlapping windows, dropping fragments
// too short to retrieve.
func Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var out []string
	step := chunkSize - chunkOverlap
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(piece)) >= chunkMinimum {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// ExtractText pulls plain text out of an uploaded file. txt and md pass
// through; binary formats are salvaged by keeping printable runs, which is
// enough for keyword retrieval without a parser dependency.
func ExtractText(filename string, data []byte) string {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md") {
		return string(data)
	}
	return salvageText(data)
}

func salvageText(data []byte) string {
	var b strings.Builder
	var run []rune
	flush := func() {
		// short printable runs inside binary formats are structure noise
		if len(run) >= 20 {
			b.WriteString(string(run))
			b.WriteByte('\n')
		}
		run = run[:0]
	}
	for _, r := range string(data) {
		if r == '\n' || r == '\t' || (unicode.IsPrint(r) && r != unicode.ReplacementChar) {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return b.String()
}
