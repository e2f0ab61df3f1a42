package models

const (
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	DefaultTopK       = 4
	DefaultIndexName  = "default"
	ChunkIDFormat     = "chunk-%06d"
	PageSeparator     = "\n\n"
	NoIndexMessage    = "no index found / upload a document first"
	IngestMessageForm = "PDF '%s' ingested successfully"
)

var (
	AnswerSystemPrompt = "You are a helpful assistant. Answer the user's question based only on the provided context. If the context does not contain the answer, say so. Do not make up facts."

	// AnswerPromptTemplate is rendered with langchaingo prompts (Go template format).
	AnswerPromptTemplate = `Use the following pieces of context to answer the question at the end.

Context:
{{.context}}

Question: {{.question}}
Helpful Answer:`
)
