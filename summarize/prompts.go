package summarize

// Prompt templates for the three sequential LLM calls in the pipeline.
// Grounded on original_source/app/domains/ai/summarization/prompts.py's
// WEBPAGE_SUMMARY_PROMPT/TAG_EXTRACTION_PROMPT/CATEGORY_PREDICTION_PROMPT
// role and ordering, reworded rather than translated.
const (
	defaultSummaryPrompt = "Summarize the following content in 2-4 concise sentences, preserving concrete facts and figures:\n\n%s"

	tagExtractionPrompt = "Extract up to 8 short topical tags for the following summary. " +
		"Respond with a JSON array of strings only, most relevant first:\n\n%s"

	categoryPredictionPrompt = "Classify the following summary into up to 5 candidate categories " +
		"(single words or short phrases). Respond with a JSON array of strings only, best match first:\n\n%s"
)
