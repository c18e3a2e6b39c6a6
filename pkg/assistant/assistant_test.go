package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/sragetl/pkg/llm"
	"github.com/japaniel/sragetl/pkg/retrieval"
)

type fakeCompleter struct {
	out   string
	err   error
	calls int
	msgs  []llm.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	f.calls++
	f.msgs = msgs
	return f.out, f.err
}

func newIndex(t *testing.T) *retrieval.Index {
	t.Helper()
	idx := retrieval.New("", nil)
	_, err := idx.AddBatch([]retrieval.Input{
		{Content: "Taxa de mortalidade em idosos: 4.8%", Metadata: map[string]any{"topic": "mortalidade"}},
		{Content: "Cobertura vacinal na região Sul: 91.2%", Metadata: map[string]any{"topic": "vacinacao"}},
	})
	require.NoError(t, err)
	return idx
}

func TestAskWithoutModelUsesTemplate(t *testing.T) {
	a := New(newIndex(t), nil, nil)
	reply, err := a.Ask(context.Background(), "Qual a mortalidade em idosos?")
	require.NoError(t, err)
	assert.False(t, reply.Generated)
	assert.True(t, strings.HasPrefix(reply.Answer.Answer, "Baseado nos dados disponíveis sobre mortalidade"))
	require.Len(t, reply.Sources, 1)
	assert.Greater(t, reply.Confidence, retrieval.Threshold)
}

func TestAskForwardsContext(t *testing.T) {
	fc := &fakeCompleter{out: "A mortalidade em idosos é de 4,8%."}
	a := New(newIndex(t), fc, nil)
	reply, err := a.Ask(context.Background(), "Qual a mortalidade em idosos?")
	require.NoError(t, err)
	assert.True(t, reply.Generated)
	assert.Equal(t, fc.out, reply.Answer.Answer)
	assert.NotEmpty(t, reply.Context)
	require.Len(t, fc.msgs, 1)
	assert.Contains(t, fc.msgs[0].Content, "Taxa de mortalidade em idosos")
	assert.Contains(t, fc.msgs[0].Content, "Pergunta: Qual a mortalidade em idosos?")
}

func TestAskFallsBackOnModelError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("boom")}
	a := New(newIndex(t), fc, nil)
	reply, err := a.Ask(context.Background(), "cobertura vacinal")
	require.NoError(t, err)
	assert.False(t, reply.Generated)
	assert.Equal(t, 1, fc.calls)
	assert.True(t, strings.HasPrefix(reply.Answer.Answer, "Dados sobre vacinação"))
}

func TestAskSkipsModelWithoutSources(t *testing.T) {
	fc := &fakeCompleter{out: "não deveria"}
	a := New(newIndex(t), fc, nil)
	reply, err := a.Ask(context.Background(), "dengue")
	require.NoError(t, err)
	assert.Equal(t, retrieval.NoAnswer, reply.Answer.Answer)
	assert.Zero(t, fc.calls)
}

func TestAskClosedIndex(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Close())
	_, err := New(idx, nil, nil).Ask(context.Background(), "mortalidade")
	assert.ErrorIs(t, err, retrieval.ErrIndexClosed)
}
