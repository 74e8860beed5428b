package sse

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Parser turns an arbitrarily chunked SSE byte stream into content deltas.
// It carries the trailing incomplete line between Feed calls, so frames may
// be split anywhere, including inside a "data: " prefix.
type Parser struct {
	buf  strings.Builder
	done bool
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes one chunk and returns the content deltas completed by it,
// in arrival order. Malformed frames are skipped, they never fail the stream.
func (p *Parser) Feed(chunk []byte) []string {
	p.buf.Write(chunk)

	data := p.buf.String()
	idx := strings.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil
	}
	p.buf.Reset()
	p.buf.WriteString(data[idx+1:])

	var deltas []string
	for _, line := range strings.Split(data[:idx], "\n") {
		delta, ok := p.parseLine(line)
		if !ok {
			continue
		}
		deltas = append(deltas, delta)
	}
	return deltas
}

// Done reports whether a "[DONE]" sentinel has been seen. The sentinel marks
// the logical end of generation but consumption only stops at stream close.
func (p *Parser) Done() bool {
	return p.done
}

// Reset clears carried state so the parser can be reused for a new stream.
func (p *Parser) Reset() {
	p.buf.Reset()
	p.done = false
}

func (p *Parser) parseLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	payload := line[len(dataPrefix):]
	if payload == doneSentinel {
		p.done = true
		return "", false
	}

	var frame struct {
		Choices []struct {
			Delta struct {
				Content any `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return "", false
	}
	if len(frame.Choices) == 0 {
		return "", false
	}
	content, ok := frame.Choices[0].Delta.Content.(string)
	if !ok || content == "" {
		return "", false
	}
	return content, true
}
