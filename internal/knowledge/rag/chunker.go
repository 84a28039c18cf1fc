package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Separators are tried in order, coarsest first. Arabic punctuation is included.
var Separators = []string{"\n\n", "\n", ". ", "؟ ", "? ", "! ", "، ", " "}

type ChunkerConfig struct {
	ChunkSize    int // tokens
	ChunkOverlap int // tokens
	MinChunkSize int // tokens
}

type Chunk struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	StartPos   int    `json:"start_pos"`
	EndPos     int    `json:"end_pos"`
	TokenCount int    `json:"token_count"`
}

type Chunker struct {
	cfg       ChunkerConfig
	tokenizer Tokenizer
}

func NewChunker(cfg ChunkerConfig, tokenizer Tokenizer) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 8
	}
	if cfg.MinChunkSize < 0 {
		cfg.MinChunkSize = 0
	}
	if tokenizer == nil {
		tokenizer = EstimateTokenizer{}
	}
	return &Chunker{cfg: cfg, tokenizer: tokenizer}
}

var (
	crlf       = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t\f\v]+`)
	trailingWS = regexp.MustCompile(` +\n`)
)

// Normalize unifies line endings and collapses runs of blank lines and spaces.
// Chunk offsets refer to the normalized text.
func Normalize(text string) string {
	text = crlf.Replace(text)
	text = spaceRuns.ReplaceAllString(text, " ")
	text = trailingWS.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

type span struct {
	start, end int
	tokens     int
}

// Split normalizes text and cuts it into chunks of about ChunkSize tokens. Every chunk after the
// first starts with roughly ChunkOverlap tokens taken from the tail of the previous one.
func (c *Chunker) Split(text string) []Chunk {
	text = Normalize(text)
	if text == "" {
		return nil
	}

	pieces := c.split(text, 0, len(text), Separators)
	var windows []span
	for i := 0; i < len(pieces); {
		j, total := i, 0
		for j < len(pieces) && (j == i || total+pieces[j].tokens <= c.cfg.ChunkSize) {
			total += pieces[j].tokens
			j++
		}
		windows = append(windows, span{pieces[i].start, pieces[j-1].end, total})
		i = j
	}

	var chunks []Chunk
	for n, w := range windows {
		start := w.start
		if n > 0 {
			start = c.overlapStart(text, windows[n-1])
		}
		chunks = c.emit(chunks, text, start, w.end)
	}
	return chunks
}

// overlapStart returns where the overlap taken from w begins, moved forward to a word boundary.
func (c *Chunker) overlapStart(text string, w span) int {
	if c.cfg.ChunkOverlap == 0 || w.tokens == 0 {
		return w.end
	}
	runes := utf8.RuneCountInString(text[w.start:w.end])
	want := c.cfg.ChunkOverlap * runes / w.tokens
	if want >= runes {
		want = runes / 2
	}

	pos := w.end
	for i := 0; i < want && pos > w.start; i++ {
		_, size := utf8.DecodeLastRuneInString(text[w.start:pos])
		pos -= size
	}
	if pos > w.start && !isSpace(text[pos-1]) {
		if idx := strings.IndexAny(text[pos:w.end], " \n"); idx >= 0 {
			pos += idx + 1
		}
	}
	return pos
}

// emit appends text[start:end] as a chunk, folding it into the previous chunk when below MinChunkSize.
func (c *Chunker) emit(chunks []Chunk, text string, start, end int) []Chunk {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	if start >= end {
		return chunks
	}

	content := text[start:end]
	tokens := c.tokenizer.CountTokens(content)
	if tokens < c.cfg.MinChunkSize && len(chunks) > 0 {
		prev := &chunks[len(chunks)-1]
		if end > prev.EndPos {
			prev.EndPos = end
			prev.Content = text[prev.StartPos:end]
			prev.TokenCount = c.tokenizer.CountTokens(prev.Content)
		}
		return chunks
	}
	return append(chunks, Chunk{
		Index:      len(chunks),
		Content:    content,
		StartPos:   start,
		EndPos:     end,
		TokenCount: tokens,
	})
}

// split breaks text[start:end] into spans that each fit ChunkSize, keeping separators
// attached to the preceding span so spans stay contiguous.
func (c *Chunker) split(text string, start, end int, seps []string) []span {
	tokens := c.tokenizer.CountTokens(text[start:end])
	if tokens <= c.cfg.ChunkSize {
		return []span{{start, end, tokens}}
	}

	for i, sep := range seps {
		segment := text[start:end]
		if !strings.Contains(segment, sep) {
			continue
		}
		var out []span
		pos := start
		for pos < end {
			idx := strings.Index(text[pos:end], sep)
			next := end
			if idx >= 0 {
				next = pos + idx + len(sep)
			}
			out = append(out, c.split(text, pos, next, seps[i+1:])...)
			pos = next
		}
		return out
	}
	return c.hardSplit(text, start, end, tokens)
}

// hardSplit cuts a separator-free span on rune boundaries.
func (c *Chunker) hardSplit(text string, start, end, tokens int) []span {
	runes := utf8.RuneCountInString(text[start:end])
	perChunk := c.cfg.ChunkSize * runes / tokens
	if perChunk < 1 {
		perChunk = 1
	}

	var out []span
	pos := start
	for pos < end {
		next, n := pos, 0
		for next < end && n < perChunk {
			_, size := utf8.DecodeRuneInString(text[next:end])
			next += size
			n++
		}
		out = append(out, span{pos, next, c.tokenizer.CountTokens(text[pos:next])})
		pos = next
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}
