package voice

import "strings"

// Sentence-chunking thresholds (spec §4.14).
const (
	ClauseMinChars = 40
	ForceFlushChars = 200
)

var sentenceEnders = []byte{'.', '!', '?'}
var clauseEnders = []byte{',', ';', ':'}

// SentenceChunker buffers generator tokens and flushes complete chunks for
// TTS at sentence boundaries, at clause boundaries once enough text has
// accumulated, or forcibly once the buffer grows too long (spec §4.14).
type SentenceChunker struct {
	buf strings.Builder
}

// Push appends one token (arbitrary-sized piece of generated text) and
// returns any chunks that became ready to flush, in order.
func (c *SentenceChunker) Push(token string) []string {
	var flushed []string
	for _, r := range token {
		c.buf.WriteRune(r)
		if ready, text := c.tryFlush(); ready {
			flushed = append(flushed, text)
		}
	}
	return flushed
}

// Flush forces out whatever remains buffered, e.g. at end of generation.
func (c *SentenceChunker) Flush() (string, bool) {
	text := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	if text == "" {
		return "", false
	}
	return text, true
}

func (c *SentenceChunker) tryFlush() (bool, string) {
	s := c.buf.String()
	if s == "" {
		return false, ""
	}
	last := s[len(s)-1]

	if isOneOf(last, sentenceEnders) {
		return c.flushNow()
	}
	if isOneOf(last, clauseEnders) && len(strings.TrimSpace(s)) >= ClauseMinChars {
		return c.flushNow()
	}
	if len(s) >= ForceFlushChars {
		return c.flushNow()
	}
	return false, ""
}

func (c *SentenceChunker) flushNow() (bool, string) {
	text := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	if text == "" {
		return false, ""
	}
	return true, text
}

func isOneOf(b byte, set []byte) bool {
	for _, s := range set {
		if b == s {
			return true
		}
	}
	return false
}
