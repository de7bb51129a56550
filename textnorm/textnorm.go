// Package textnorm maps styled Unicode letters and digits back to plain ASCII.
//
// Social media posts often use Mathematical Alphanumeric Symbols (𝗯𝗼𝗹𝗱, 𝘪𝘵𝘢𝘭𝘪𝘤),
// enclosed letters (Ⓐ, 🅰) or fullwidth forms (Ａ) to fake formatting. Those render
// poorly in titles and break search, so they are folded to ASCII. Everything else,
// including emoji, punctuation and hashtags, passes through unchanged.
package textnorm

import "strings"

type block struct {
	first rune
	base  rune // ASCII rune that first maps to
	count int
}

var blocks = []block{
	// Mathematical Bold
	{0x1D400, 'A', 26}, {0x1D41A, 'a', 26}, {0x1D7CE, '0', 10},
	// Mathematical Italic
	{0x1D434, 'A', 26}, {0x1D44E, 'a', 26},
	// Mathematical Bold Italic
	{0x1D468, 'A', 26}, {0x1D482, 'a', 26},
	// Mathematical Sans-Serif
	{0x1D5A0, 'A', 26}, {0x1D5BA, 'a', 26}, {0x1D7E2, '0', 10},
	// Mathematical Sans-Serif Bold, the most common in posts
	{0x1D5D4, 'A', 26}, {0x1D5EE, 'a', 26}, {0x1D7EC, '0', 10},
	// Mathematical Sans-Serif Italic
	{0x1D608, 'A', 26}, {0x1D622, 'a', 26},
	// Mathematical Sans-Serif Bold Italic
	{0x1D63C, 'A', 26}, {0x1D656, 'a', 26},
	// Circled Latin and digits. Circled zero sits apart from one..nine.
	{0x24B6, 'A', 26}, {0x24D0, 'a', 26}, {0x24EA, '0', 1}, {0x2460, '1', 9},
	// Fullwidth Latin and digits
	{0xFF21, 'A', 26}, {0xFF41, 'a', 26}, {0xFF10, '0', 10},
	// Squared and negative squared Latin capitals
	{0x1F130, 'A', 26}, {0x1F170, 'A', 26},
}

// table is built once at package initialization and never written afterwards.
var table = buildTable(blocks)

func buildTable(bs []block) map[rune]rune {
	size := 0
	for _, b := range bs {
		size += b.count
	}
	m := make(map[rune]rune, size)
	for _, b := range bs {
		for i := range b.count {
			m[b.first+rune(i)] = b.base + rune(i)
		}
	}
	return m
}

// Normalize replaces every styled code point with its ASCII equivalent.
func Normalize(text string) string {
	if text == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if ascii, ok := table[r]; ok {
			b.WriteRune(ascii)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup reports the ASCII rune mapped to r, if any.
func Lookup(r rune) (rune, bool) {
	ascii, ok := table[r]
	return ascii, ok
}
