// Package ingest turns raw search agent answers into normalized lead batches.
package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const fence = "```"

// Payload is the tagged result of Parse. OK reports whether Value holds a
// decoded JSON document; when false the response carried no usable data.
type Payload struct {
	Value any
	OK    bool
}

// Parsed wraps a decoded JSON value.
func Parsed(v any) Payload {
	return Payload{Value: v, OK: true}
}

// Unparsable is the "no data" result.
func Unparsable() Payload {
	return Payload{}
}

// Parse extracts a JSON value from an agent response. Leading and trailing
// code-fence markers are removed; interior fences are left untouched. Parse is
// schema-agnostic and never fails: malformed input yields Unparsable.
func Parse(raw string) Payload {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Unparsable()
	}
	if v, ok := decode(stripFences(text)); ok {
		return Parsed(v)
	}
	if bodies := fencedBodies(text); len(bodies) > 0 {
		for _, body := range bodies {
			if v, ok := decode(body); ok {
				return Parsed(v)
			}
		}
		return Unparsable()
	}
	if strings.Contains(text, fence) {
		return Unparsable()
	}
	if span, ok := arraySpan(text); ok {
		if v, ok := decode(span); ok {
			return Parsed(v)
		}
	}
	return Unparsable()
}

// stripFences removes a leading ```json or ``` marker and, only in that case,
// one trailing ``` marker.
func stripFences(text string) string {
	switch {
	case strings.HasPrefix(text, fence+"json"):
		text = strings.TrimPrefix(text, fence+"json")
	case strings.HasPrefix(text, fence):
		text = strings.TrimPrefix(text, fence)
	default:
		return text
	}
	return strings.TrimSuffix(text, fence)
}

// fencedBodies finds the first line-leading opening fence and returns the
// candidate bodies between the end of that line and a closing fence after it:
// the last closing fence first, then the first one. It handles prose before or
// after a fenced block.
func fencedBodies(text string) []string {
	open := -1
	for i := 0; i < len(text); {
		if strings.HasPrefix(text[i:], fence) {
			open = i
			break
		}
		next := strings.IndexByte(text[i:], '\n')
		if next < 0 {
			break
		}
		i += next + 1
	}
	if open < 0 {
		return nil
	}
	lineEnd := strings.IndexByte(text[open:], '\n')
	if lineEnd < 0 {
		return nil
	}
	rest := text[open+lineEnd+1:]
	if strings.HasPrefix(rest, fence) {
		return []string{""}
	}
	last := strings.LastIndex(rest, "\n"+fence)
	if last < 0 {
		return nil
	}
	bodies := []string{rest[:last]}
	if first := strings.Index(rest, "\n"+fence); first != last {
		bodies = append(bodies, rest[:first])
	}
	return bodies
}

// arraySpan returns the outermost [...] span of prose-wrapped text.
func arraySpan(text string) (string, bool) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func decode(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}
