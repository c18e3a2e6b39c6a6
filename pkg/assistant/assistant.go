package assistant

import (
	"context"
	"log/slog"
	"strings"

	"github.com/japaniel/sragetl/pkg/llm"
	"github.com/japaniel/sragetl/pkg/logging"
	"github.com/japaniel/sragetl/pkg/retrieval"
)

// Answerer returns grounded context and a templated answer for a question.
type Answerer interface {
	Answer(question string, k int) (*retrieval.Answer, error)
}

// Completer generates text from chat messages.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// Reply is the assistant output. Generated is set when the answer text came
// from the language model instead of the retrieval template.
type Reply struct {
	retrieval.Answer
	Generated bool `json:"generated"`
}

// Assistant answers questions from the retrieval index and, when a Completer
// is set, rewrites the answer with the language model over the same context.
type Assistant struct {
	Index  Answerer
	LLM    Completer
	TopK   int
	Logger *slog.Logger
}

// New creates an assistant. completer may be nil.
func New(index Answerer, completer Completer, logger *slog.Logger) *Assistant {
	return &Assistant{Index: index, LLM: completer, TopK: retrieval.DefaultK, Logger: logging.OrDiscard(logger)}
}

// Ask answers question. Language model failures fall back to the templated
// answer; only retrieval errors are returned.
func (a *Assistant) Ask(ctx context.Context, question string) (*Reply, error) {
	log := logging.OrDiscard(a.Logger)
	ans, err := a.Index.Answer(question, a.TopK)
	if err != nil {
		return nil, err
	}
	reply := &Reply{Answer: *ans}
	if a.LLM == nil || len(ans.Sources) == 0 {
		return reply, nil
	}

	text, err := a.LLM.Complete(ctx, []llm.Message{{Role: "user", Content: Prompt(question, ans.Context)}})
	if err != nil {
		log.Warn("language model unavailable, using templated answer", "err", err)
		return reply, nil
	}
	if text == "" {
		return reply, nil
	}
	reply.Answer.Answer = text
	reply.Generated = true
	return reply, nil
}

// Prompt builds the user message that carries the retrieved context.
func Prompt(question, context string) string {
	var sb strings.Builder
	sb.WriteString("Contexto dos dados DATASUS:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nPergunta: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nResponda de forma objetiva com base apenas no contexto acima.")
	return sb.String()
}
