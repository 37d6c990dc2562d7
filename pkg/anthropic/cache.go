package anthropic

// BuildCachedSystemBlocks constructs system content blocks with an
// ephemeral cache breakpoint. Every chunk of a document shares the same
// system block, so later chunks read it from the cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}

// BuildSystemBlocks constructs an uncached system block, or none for empty
// text.
func BuildSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{{Text: text}}
}
