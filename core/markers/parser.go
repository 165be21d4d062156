// Package markers splits a streamed assistant reply into literal text and
// inline control directives delimited by "<|" and "|>".
package markers

import (
	"strings"
	"unicode/utf8"
)

const (
	TagOpen  = "<|"
	TagClose = "|>"
)

const defaultMinLiteralEmitLength = 1

type ParserOption func(*Parser)

// WithMinLiteralEmitLength sets how many characters must be ready before a
// literal fragment is emitted mid-stream. Values below 1 are raised to 1.
func WithMinLiteralEmitLength(n int) ParserOption {
	return func(p *Parser) {
		p.minLiteralEmitLength = max(defaultMinLiteralEmitLength, n)
	}
}

// Parser is an incremental tokenizer. It never emits part of a directive:
// a "<|" split across Consume calls is held back until it can be decided.
//
// Parser is not safe for concurrent use.
type Parser struct {
	onLiteral func(string)
	onSpecial func(string)

	minLiteralEmitLength int

	buffer    string
	insideTag bool
}

func NewParser(onLiteral, onSpecial func(string), opts ...ParserOption) *Parser {
	p := &Parser{
		onLiteral:            onLiteral,
		onSpecial:            onSpecial,
		minLiteralEmitLength: defaultMinLiteralEmitLength,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) Consume(chunk string) {
	if chunk == "" {
		return
	}

	p.buffer += chunk
	p.scan()
}

func (p *Parser) scan() {
	for p.buffer != "" {
		if !p.insideTag {
			start := strings.Index(p.buffer, TagOpen)
			if start < 0 {
				// Hold the last character back, it might be the first half
				// of an opening delimiter.
				keep := lastRuneStart(p.buffer)
				if utf8.RuneCountInString(p.buffer[:keep]) < p.minLiteralEmitLength {
					return
				}
				p.emitLiteral(p.buffer[:keep])
				p.buffer = p.buffer[keep:]
				return
			}

			if start > 0 {
				p.emitLiteral(p.buffer[:start])
			}
			p.buffer = p.buffer[start:]
			p.insideTag = true
			continue
		}

		// The closing delimiter may overlap the opening one, "<|>" is a
		// complete directive.
		end := strings.Index(p.buffer, TagClose)
		if end < 0 {
			return
		}
		end += len(TagClose)

		p.emitSpecial(p.buffer[:end])
		p.buffer = p.buffer[end:]
		p.insideTag = false
	}
}

// End flushes any pending literal text. An unterminated directive is
// dropped and logged.
func (p *Parser) End() {
	if p.insideTag {
		if p.buffer != "" {
			logger.Warn("dropping incomplete marker sequence at end of stream", "sequence", p.buffer)
		}
	} else if p.buffer != "" {
		p.emitLiteral(p.buffer)
	}

	p.buffer = ""
	p.insideTag = false
}

// Reset discards buffered input without emitting anything.
func (p *Parser) Reset() {
	p.buffer = ""
	p.insideTag = false
}

func (p *Parser) emitLiteral(text string) {
	if p.onLiteral != nil {
		p.onLiteral(text)
	}
}

func (p *Parser) emitSpecial(tag string) {
	if p.onSpecial != nil {
		p.onSpecial(tag)
	}
}

// lastRuneStart returns the byte offset of the final (possibly still
// incomplete) rune in s.
func lastRuneStart(s string) int {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			return i
		}
	}
	return len(s) - 1
}

// Strip runs a complete text through a fresh parser and returns the literal
// content together with every directive found, in order.
func Strip(text string) (literal string, specials []string) {
	var b strings.Builder
	p := NewParser(
		func(s string) { b.WriteString(s) },
		func(s string) { specials = append(specials, s) },
	)
	p.Consume(text)
	p.End()
	return b.String(), specials
}
