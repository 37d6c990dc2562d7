package model

import "unicode/utf8"

// Chunk is a contiguous, offset-tracked slice of a document.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	// Start is the rune offset of the chunk's first character in the document.
	Start int `json:"start"`
}

// Len returns the chunk length in runes.
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// End returns the rune offset one past the chunk's last character.
func (c Chunk) End() int {
	return c.Start + c.Len()
}
