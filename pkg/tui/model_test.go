package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/japaniel/sragetl/pkg/assistant"
	"github.com/japaniel/sragetl/pkg/retrieval"
)

type fakeAsker struct {
	reply *assistant.Reply
	err   error
	asked []string
}

func (f *fakeAsker) Ask(ctx context.Context, q string) (*assistant.Reply, error) {
	f.asked = append(f.asked, q)
	return f.reply, f.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func submit(t *testing.T, m Model, q string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestAskRendersAnswerAndSources(t *testing.T) {
	fa := &fakeAsker{reply: &assistant.Reply{Answer: retrieval.Answer{
		Answer:     "Dados sobre vacinação: 91%",
		Sources:    []retrieval.Source{{ID: 3, Metadata: map[string]any{"source": "DATASUS", "topic": "vacinacao"}, Similarity: 0.42}},
		Confidence: 0.42,
	}}}
	m := sized(t, New(fa, "5 documentos"))

	m, cmd := submit(t, m, "  cobertura vacinal  ")
	if cmd == nil || !m.waiting {
		t.Fatal("expected an ask command while waiting")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}

	next, _ := m.Update(cmd())
	m = next.(Model)
	if len(fa.asked) != 1 || fa.asked[0] != "cobertura vacinal" {
		t.Fatalf("unexpected questions %v", fa.asked)
	}
	view := m.View()
	for _, want := range []string{"Dados sobre vacinação: 91%", "fonte #3", "DATASUS/vacinacao", "confiança 0.42"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestAskErrorShownInStatus(t *testing.T) {
	fa := &fakeAsker{err: errors.New("retrieval index closed")}
	m := sized(t, New(fa, ""))
	m, cmd := submit(t, m, "mortalidade")
	next, _ := m.Update(cmd())
	m = next.(Model)
	if !strings.Contains(m.status, "retrieval index closed") {
		t.Fatalf("unexpected status %q", m.status)
	}
	if m.waiting {
		t.Error("model still waiting after reply")
	}
}

func TestEmptyInputIgnored(t *testing.T) {
	fa := &fakeAsker{}
	m := sized(t, New(fa, ""))
	_, cmd := submit(t, m, "   ")
	if cmd != nil {
		t.Fatal("empty question should not trigger a command")
	}
}

func TestQuitKeys(t *testing.T) {
	m := New(&fakeAsker{}, "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestViewBeforeResize(t *testing.T) {
	if got := New(&fakeAsker{}, "").View(); got != "Carregando..." {
		t.Fatalf("unexpected view %q", got)
	}
}
