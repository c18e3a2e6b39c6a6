package retrieval

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/japaniel/sragetl/pkg/logging"
)

// ErrIndexClosed is returned by operations on a closed Index.
var ErrIndexClosed = errors.New("retrieval index closed")

const (
	// MaxFeatures bounds the vocabulary size.
	MaxFeatures = 1000
	// Threshold is the similarity a document must exceed to be returned.
	Threshold = 0.1
	// DefaultK is used when Search or Answer get k <= 0.
	DefaultK = 3
)

// Document is an indexed text. IDs follow insertion order.
type Document struct {
	ID       int            `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	AddedAt  time.Time      `json:"added_at"`
}

// Input is a document waiting to be added.
type Input struct {
	Content  string
	Metadata map[string]any
}

// Result is a search hit.
type Result struct {
	Document
	Similarity float64 `json:"similarity"`
}

// Status describes the index contents.
type Status struct {
	Documents int    `json:"total_documents"`
	Indexed   int    `json:"indexed_documents"`
	Features  int    `json:"features"`
	Fitted    bool   `json:"is_fitted"`
	Dir       string `json:"data_dir"`
}

// Index is a TF-IDF document index searched by cosine similarity.
// It is safe for concurrent use.
type Index struct {
	// RefitEvery is the number of added documents that trigger a re-fit.
	// Values below 1 mean 1.
	RefitEvery int
	Logger     *slog.Logger

	dir     string
	now     func() time.Time
	mu      sync.RWMutex
	docs    []Document
	vec     *Vectorizer
	matrix  []Vector
	pending int
	closed  bool
}

// New creates an empty in-memory index. An empty dir disables persistence.
func New(dir string, logger *slog.Logger) *Index {
	return &Index{
		RefitEvery: 1,
		Logger:     logging.OrDiscard(logger),
		dir:        dir,
		now:        time.Now,
		vec:        NewVectorizer(MaxFeatures),
	}
}

// Open creates an index backed by dir and loads what was persisted there.
// Unreadable state is logged and the index starts empty.
func Open(dir string, logger *slog.Logger) (*Index, error) {
	idx := New(dir, logger)
	if dir == "" {
		return idx, nil
	}
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	docs, model, err := load(dir)
	if err != nil {
		idx.Logger.Warn("discarding persisted index", "dir", dir, "err", err)
		return idx, nil
	}
	idx.docs = docs
	if model != nil && len(model.Matrix) == len(docs) {
		idx.vec = model.Vectorizer
		idx.matrix = model.Matrix
	} else if len(docs) > 0 {
		idx.pending = len(docs)
		idx.refit()
	}
	idx.Logger.Info("loaded index", "documents", len(idx.docs), "indexed", len(idx.matrix))
	return idx, nil
}

// Add appends one document and returns its id.
func (i *Index) Add(content string, metadata map[string]any) (int, error) {
	ids, err := i.AddBatch([]Input{{Content: content, Metadata: metadata}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AddBatch appends documents in order, re-fitting every RefitEvery documents.
func (i *Index) AddBatch(in []Input) ([]int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrIndexClosed
	}
	every := i.RefitEvery
	if every < 1 {
		every = 1
	}
	ids := make([]int, 0, len(in))
	for _, d := range in {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		doc := Document{ID: len(i.docs), Content: d.Content, Metadata: meta, AddedAt: i.now()}
		i.docs = append(i.docs, doc)
		ids = append(ids, doc.ID)
		i.pending++
		if i.pending >= every {
			i.refit()
		}
	}
	return ids, nil
}

// Flush re-fits pending documents so they become searchable.
func (i *Index) Flush() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrIndexClosed
	}
	if i.pending > 0 {
		i.refit()
	}
	return nil
}

// refit rebuilds the model over all documents and persists it. A failed fit
// is logged and the previous model stays in place; the documents are saved
// either way. Caller holds the write lock.
func (i *Index) refit() {
	corpus := make([]string, len(i.docs))
	for n, d := range i.docs {
		corpus[n] = d.Content
	}
	vec := NewVectorizer(MaxFeatures)
	if err := vec.Fit(corpus); err != nil {
		i.Logger.Warn("fit vectorizer", "documents", len(corpus), "err", err)
		i.persist()
		return
	}
	matrix := make([]Vector, len(corpus))
	for n, text := range corpus {
		matrix[n] = vec.Transform(text)
	}
	i.vec = vec
	i.matrix = matrix
	i.pending = 0
	i.persist()
}

// persist writes the documents and, when fitted, the current model.
func (i *Index) persist() {
	if i.dir == "" {
		return
	}
	var m *model
	if i.vec.Fitted() {
		m = &model{Vectorizer: i.vec, Matrix: i.matrix}
	}
	if err := save(i.dir, i.docs, m); err != nil {
		i.Logger.Error("persist index", "dir", i.dir, "err", err)
	}
}

// Search returns up to k documents whose similarity to query exceeds
// Threshold, most similar first. k <= 0 means DefaultK.
func (i *Index) Search(query string, k int) ([]Result, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, ErrIndexClosed
	}
	if k <= 0 {
		k = DefaultK
	}
	if !i.vec.Fitted() || len(i.matrix) == 0 {
		return nil, nil
	}
	q := i.vec.Transform(query)
	if len(q) == 0 {
		return nil, nil
	}

	hits := make([]Result, 0, len(i.matrix))
	for n, row := range i.matrix {
		s := row.Dot(q)
		if s > Threshold {
			hits = append(hits, Result{Document: i.docs[n], Similarity: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Similarity > hits[b].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Documents returns a copy of all documents in insertion order.
func (i *Index) Documents() []Document {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]Document(nil), i.docs...)
}

// Status reports document and vocabulary counts.
func (i *Index) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Status{
		Documents: len(i.docs),
		Indexed:   len(i.matrix),
		Features:  len(i.vec.Vocabulary),
		Fitted:    i.vec.Fitted(),
		Dir:       i.dir,
	}
}

// Close flushes pending documents and rejects further use.
func (i *Index) Close() error {
	if err := i.Flush(); err != nil {
		return err
	}
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	return nil
}
