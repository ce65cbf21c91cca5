package anthropic

// BuildCachedSystemBlocks wraps a static system prompt in a single block with
// an ephemeral cache breakpoint. Extraction prompts (instructions plus
// few-shot examples) are identical across documents, so every call after the
// first reads them from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}

// UserText builds a single-turn user message list.
func UserText(text string) []Message {
	return []Message{{Role: "user", Content: text}}
}
