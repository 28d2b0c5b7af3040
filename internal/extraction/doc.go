// Package extraction turns the text of a conversational turn into a
// structured Extraction.
//
// The Extractor trims the text, rejects empty input with ErrEmptyInput,
// caps it at MaxInputRunes (reporting truncation to the caller), scrubs
// credential-shaped strings, and delegates to the model gateway. When a
// turn id is supplied the result is cached per (model, turn) and served
// again while the turn's text hash is unchanged:
//
//	ex := extraction.New(gw, caches.Extraction, extraction.Options{Model: cfg.OpenAI.Model})
//	result, truncated, err := ex.ExtractTurn(ctx, turn.Text, &turn.ID)
package extraction
