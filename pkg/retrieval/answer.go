package retrieval

import (
	"strings"
)

// NoAnswer is returned when no document passes the similarity threshold.
const NoAnswer = "Não foram encontrados documentos relevantes para responder à pergunta."

const (
	contextDocs  = 3
	contextRunes = 500
)

// Source identifies a document used to build an answer.
type Source struct {
	ID         int            `json:"id"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
}

// Answer is a templated reply grounded on the best matching documents.
type Answer struct {
	Answer     string   `json:"answer"`
	Context    string   `json:"context,omitempty"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Answer searches for question and builds a reply from the top documents.
// Confidence is the mean similarity of the documents used.
func (i *Index) Answer(question string, k int) (*Answer, error) {
	hits, err := i.Search(question, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Answer{Answer: NoAnswer, Sources: []Source{}}, nil
	}
	if len(hits) > contextDocs {
		hits = hits[:contextDocs]
	}

	parts := make([]string, 0, len(hits))
	sources := make([]Source, 0, len(hits))
	var sum float64
	for _, h := range hits {
		parts = append(parts, truncate(h.Content, contextRunes))
		sources = append(sources, Source{ID: h.ID, Metadata: h.Metadata, Similarity: h.Similarity})
		sum += h.Similarity
	}
	ctx := strings.Join(parts, "\n\n")
	return &Answer{
		Answer:     compose(question, ctx),
		Context:    ctx,
		Sources:    sources,
		Confidence: sum / float64(len(hits)),
	}, nil
}

// compose picks a lead-in by the topic of question and appends a prefix of ctx.
func compose(question, ctx string) string {
	q := strings.ToLower(question)
	switch {
	case containsAny(q, "mortalidade", "mortality", "death"):
		return "Baseado nos dados disponíveis sobre mortalidade:\n\n" + truncate(ctx, 300) + "..."
	case containsAny(q, "uti", "icu"):
		return "Informações sobre UTI encontradas nos dados:\n\n" + truncate(ctx, 300) + "..."
	case containsAny(q, "vacinação", "vacina", "vaccin"):
		return "Dados sobre vacinação:\n\n" + truncate(ctx, 300) + "..."
	case containsAny(q, "casos", "cases"):
		return "Informações sobre casos encontradas:\n\n" + truncate(ctx, 300) + "..."
	default:
		return "Com base nos documentos encontrados:\n\n" + truncate(ctx, 400) + "..."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	count := 0
	for pos := range s {
		if count == n {
			return s[:pos]
		}
		count++
	}
	return s
}
