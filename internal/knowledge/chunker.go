package knowledge

// Long snippets are split into overlapping windows before embedding so a
// single vector never has to summarize a whole document. Windows are
// rune-based; word splitting does not work for Chinese text.

// chunkSize is the window length in runes.
const chunkSize = 200

// chunkOverlap is how many runes consecutive windows share.
const chunkOverlap = 20

// chunkText splits text into overlapping rune windows. Text at or under
// size comes back as a single chunk.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}
	step := size - overlap
	if step <= 0 {
		step = 1
	}
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end >= len(runes) {
			break
		}
	}
	return chunks
}

// expandChunks maps input texts to their chunks, duplicating the matching
// metadata entry for every chunk of a split text and recording the chunk
// ordinal in it.
func expandChunks(texts []string, metadata []map[string]any) ([]string, []map[string]any) {
	outTexts := make([]string, 0, len(texts))
	outMeta := make([]map[string]any, 0, len(texts))
	for i, text := range texts {
		chunks := chunkText(text, chunkSize, chunkOverlap)
		var meta map[string]any
		if i < len(metadata) {
			meta = metadata[i]
		}
		for j, chunk := range chunks {
			outTexts = append(outTexts, chunk)
			if len(chunks) == 1 {
				outMeta = append(outMeta, meta)
				continue
			}
			chunkMeta := map[string]any{"chunk": j}
			for k, v := range meta {
				chunkMeta[k] = v
			}
			outMeta = append(outMeta, chunkMeta)
		}
	}
	return outTexts, outMeta
}
