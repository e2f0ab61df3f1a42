package llmservice

import "context"

// EchoCompleter answers with the prompt itself. It runs offline and shows
// exactly what retrieval put in front of the model.
type EchoCompleter struct{}

func (EchoCompleter) Name() string { return "echo" }

func (EchoCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt, nil
}
