package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
)

// Fixed replies for terminal retrieval outcomes.
const (
	MsgImageUnavailable = "Error: Could not process the input image."
	MsgNoMatches        = "No similar images found in the database."
	MsgNoDocument       = "No document associated with the similar image."
)

// ErrNoAnswerModel is returned when no answer model is configured.
var ErrNoAnswerModel = errors.New("no answer model configured")

// ImageEmbedder produces the feature vector of the query image.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
}

// Event is one step of a streamed answer.
type Event struct {
	Type    string `json:"type"` // "reasoning", "source", "answer", "error"
	Content string `json:"content"`
}

// Answer is a synthesized reply and the context it was grounded on.
// Result is nil when the query image could not be embedded.
type Answer struct {
	Text   string  `json:"answer"`
	Result *Result `json:"result,omitempty"`
}

// Answerer answers a question about a query image from graph context.
type Answerer struct {
	images ImageEmbedder
	engine *Engine
	router repository.LLMRouter
	topK   int
}

// NewAnswerer creates an answerer. topK <= 0 uses DefaultTopK.
func NewAnswerer(images ImageEmbedder, engine *Engine, router repository.LLMRouter, topK int) *Answerer {
	return &Answerer{images: images, engine: engine, router: router, topK: topK}
}

// Answer runs the whole flow. Terminal retrieval outcomes are returned as
// fixed answer text, not as errors.
func (a *Answerer) Answer(ctx context.Context, imagePath, question string) (*Answer, error) {
	var ans *Answer
	err := a.run(ctx, imagePath, question, func(ev Event) {}, func(out *Answer) { ans = out })
	if err != nil {
		return nil, err
	}
	return ans, nil
}

// Stream runs the flow and reports progress on stream, which it closes.
// The last event is either "answer" or "error".
func (a *Answerer) Stream(ctx context.Context, imagePath, question string, stream chan<- Event) {
	defer close(stream)
	send := func(ev Event) {
		select {
		case stream <- ev:
		case <-ctx.Done():
		}
	}

	err := a.run(ctx, imagePath, question, send, func(out *Answer) {
		send(Event{Type: "answer", Content: out.Text})
	})
	if err != nil {
		send(Event{Type: "error", Content: err.Error()})
	}
}

// Retrieve embeds the query image and returns the graph context for it.
// topK <= 0 uses the answerer's default.
func (a *Answerer) Retrieve(ctx context.Context, imagePath string, topK int) (*Result, error) {
	if topK <= 0 {
		topK = a.topK
	}
	vec, err := a.images.EmbedImage(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("embed query image: %w", err)
	}
	return a.engine.AnswerContext(ctx, vec, topK)
}

func (a *Answerer) run(ctx context.Context, imagePath, question string, emit func(Event), done func(*Answer)) error {
	emit(Event{Type: "reasoning", Content: "Embedding query image " + imagePath})
	res, err := a.Retrieve(ctx, imagePath, 0)
	if errors.Is(err, repository.ErrFeatureUnavailable) {
		logger.Warn("query image unavailable", "path", imagePath, "err", err)
		done(&Answer{Text: MsgImageUnavailable})
		return nil
	}
	if err != nil {
		return err
	}

	for _, m := range res.Matches {
		emit(Event{Type: "source", Content: fmt.Sprintf("%s (similarity: %.3f)", m.Path, m.Similarity)})
	}

	switch res.Status {
	case StatusNoMatches:
		done(&Answer{Text: MsgNoMatches, Result: res})
		return nil
	case StatusNoDocument:
		done(&Answer{Text: MsgNoDocument, Result: res})
		return nil
	}

	var client repository.LLMClient
	if a.router != nil {
		client = a.router.RouteLLMTask(repository.TaskAnswerGeneration)
	}
	if client == nil {
		return ErrNoAnswerModel
	}

	emit(Event{Type: "reasoning", Content: fmt.Sprintf("Answering from %s with %d entities using %s",
		res.Context.Document.DocID, len(res.Context.Entities), client.Name())})
	text, err := client.Generate(ctx, BuildAnswerPrompt(res.Context, question))
	if err != nil {
		return fmt.Errorf("answer generation failed: %w", err)
	}

	done(&Answer{Text: strings.TrimSpace(text), Result: res})
	return nil
}
