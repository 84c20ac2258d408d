package features

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"finanzas-backend/internal/backoff"
	"finanzas-backend/internal/gemini"
	"finanzas-backend/internal/task"
)

const bicicletaPlan = `{"meta":"bicicleta","costoEstimado":"150","ahorroSemanal":"15","duracionEstimada":"10 semanas","pasos":["Investigar","Presupuestar","Ahorrar"]}`

type fakePrompter struct {
	mu      sync.Mutex
	prompts []gemini.Prompt
	reply   gemini.Envelope
}

func (f *fakePrompter) Invoke(_ context.Context, p gemini.Prompt) gemini.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return f.reply
}

type recordingSink struct {
	mu      sync.Mutex
	renders []Render
}

func (s *recordingSink) Deliver(_ context.Context, _ string, r Render) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = append(s.renders, r)
	return nil
}

func (s *recordingSink) states() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []State
	for _, r := range s.renders {
		out = append(out, r.State)
	}
	return out
}

// geminiServer serves candidateText as the model's reply and counts calls.
func geminiServer(t *testing.T, candidateText string, calls *int32) *gemini.Client {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": candidateText}}},
		}},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	fetcher := backoff.NewFetcher(srv.Client(),
		backoff.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return gemini.NewClient(gemini.Options{APIKey: "test", BaseURL: srv.URL}, fetcher, zap.NewNop())
}

func TestGoalPlanner_EndToEnd(t *testing.T) {
	var calls int32
	client := geminiServer(t, bicicletaPlan, &calls)
	sink := &recordingSink{}
	planner := NewGoalPlanner(client, sink, nil, zap.NewNop())

	r := planner.Generate(context.Background(), "u1", "bicicleta")

	assert.Equal(t, StateSuccess, r.State)
	assert.Equal(t, RegionGoal, r.Region)
	assert.Contains(t, r.HTML, "<h4")
	assert.Contains(t, r.HTML, "Plan para: bicicleta</h4>")
	assert.Equal(t, 1, strings.Count(r.HTML, "<ol"))
	assert.Equal(t, 3, strings.Count(r.HTML, "<li>"))
	assert.Contains(t, r.HTML, "<li>Investigar</li><li>Presupuestar</li><li>Ahorrar</li>")
	assert.Contains(t, r.HTML, "$150")
	assert.Contains(t, r.HTML, "$15</p>")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []State{StateInProgress, StateSuccess}, sink.states())
}

func TestGoalPlanner_EmptyGoalIsRejected(t *testing.T) {
	for _, goal := range []string{"", "   ", "\t\n"} {
		var calls int32
		client := geminiServer(t, bicicletaPlan, &calls)
		sink := &recordingSink{}
		planner := NewGoalPlanner(client, sink, nil, nil)

		r := planner.Generate(context.Background(), "u1", goal)

		assert.Equal(t, StateRejected, r.State)
		assert.Contains(t, r.HTML, goalRequiredText)
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
		assert.Equal(t, []State{StateRejected}, sink.states())
	}
}

func TestGoalPlanner_PromptCarriesSchema(t *testing.T) {
	fake := &fakePrompter{reply: gemini.Envelope{Text: bicicletaPlan, Sources: []gemini.Source{}}}
	planner := NewGoalPlanner(fake, nil, nil, nil)

	planner.Generate(context.Background(), "u1", "  videojuego ")

	require.Len(t, fake.prompts, 1)
	p := fake.prompts[0]
	assert.False(t, p.UseGrounding)
	assert.Equal(t, plannerInstruction, p.SystemInstruction)
	assert.Contains(t, p.Query, "Mi meta de ahorro es: videojuego.")
	require.NotNil(t, p.Schema)
	assert.Equal(t, genai.TypeObject, p.Schema.Type)
	assert.Equal(t, []string{"meta", "costoEstimado", "ahorroSemanal", "duracionEstimada", "pasos"}, p.Schema.PropertyOrdering)
	assert.Equal(t, genai.TypeArray, p.Schema.Properties["pasos"].Type)
	assert.Equal(t, genai.TypeString, p.Schema.Properties["pasos"].Items.Type)
}

func TestGoalPlanner_InvalidJSONShowsRawText(t *testing.T) {
	fake := &fakePrompter{reply: gemini.Envelope{Text: gemini.SimulatedText, Sources: []gemini.Source{}}}
	planner := NewGoalPlanner(fake, nil, nil, nil)

	r := planner.Generate(context.Background(), "u1", "bicicleta")

	assert.Equal(t, StateError, r.State)
	assert.Contains(t, r.HTML, "no pudo generar un formato válido")
	assert.Contains(t, r.HTML, "Investigar modelos")
}

func TestGoalPlanner_EscapesModelOutput(t *testing.T) {
	fake := &fakePrompter{reply: gemini.Envelope{
		Text: `{"meta":"<script>x</script>","costoEstimado":"1","ahorroSemanal":"1","duracionEstimada":"1","pasos":["<b>a</b>"]}`,
	}}
	planner := NewGoalPlanner(fake, nil, nil, nil)

	r := planner.Generate(context.Background(), "u1", "x")
	assert.Equal(t, StateSuccess, r.State)
	assert.NotContains(t, r.HTML, "<script>")
	assert.Contains(t, r.HTML, "&lt;b&gt;a&lt;/b&gt;")
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		steps   int
	}{
		{"plain json", bicicletaPlan, false, 3},
		{"fenced json", "```json\n" + bicicletaPlan + "\n```", false, 3},
		{"missing steps", `{"meta":"x"}`, true, 0},
		{"not json", "hola", true, 0},
		{"empty steps", `{"meta":"x","pasos":[]}`, false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := ParsePlan(tc.text)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, plan.Pasos, tc.steps)
		})
	}
}

func TestConceptExplainer_RendersTextAndSources(t *testing.T) {
	fake := &fakePrompter{reply: gemini.Envelope{
		Text: "El **interés compuesto** genera intereses sobre intereses.",
		Sources: []gemini.Source{
			{URI: "https://a.example/ic", Title: "Fuente A"},
			{URI: "https://b.example", Title: "Fuente B"},
		},
	}}
	sink := &recordingSink{}
	explainer := NewConceptExplainer(fake, sink, nil, nil)

	r := explainer.Explain(context.Background(), "u1", "Interés Compuesto")

	assert.Equal(t, StateSuccess, r.State)
	assert.Equal(t, RegionConcept, r.Region)
	assert.Contains(t, r.HTML, "Interés Compuesto:</h4>")
	assert.Contains(t, r.HTML, "<strong>interés compuesto</strong>")
	assert.Contains(t, r.HTML, "Fuentes:")
	assert.Equal(t, 2, strings.Count(r.HTML, "<li>"))
	assert.Contains(t, r.HTML, `href="https://a.example/ic"`)
	assert.Contains(t, r.HTML, `target="_blank"`)
	assert.Equal(t, []State{StateInProgress, StateSuccess}, sink.states())

	require.Len(t, fake.prompts, 1)
	assert.True(t, fake.prompts[0].UseGrounding)
	assert.Nil(t, fake.prompts[0].Schema)
	assert.Equal(t, "Explícame el concepto financiero: Interés Compuesto.", fake.prompts[0].Query)
}

func TestConceptExplainer_NoSourcesSection(t *testing.T) {
	fake := &fakePrompter{reply: gemini.Envelope{Text: "Texto", Sources: []gemini.Source{}}}
	explainer := NewConceptExplainer(fake, nil, nil, nil)

	r := explainer.Explain(context.Background(), "u1", "ETF")
	assert.NotContains(t, r.HTML, "Fuentes:")
}

func TestConceptExplainer_SanitizesModelHTML(t *testing.T) {
	fake := &fakePrompter{reply: gemini.Envelope{Text: `Hola <script>alert(1)</script> mundo`}}
	explainer := NewConceptExplainer(fake, nil, nil, nil)

	r := explainer.Explain(context.Background(), "u1", "ETF")
	assert.NotContains(t, r.HTML, "<script>")
}

func TestConceptExplainer_FailureTextIsErrorState(t *testing.T) {
	fake := &fakePrompter{reply: gemini.Envelope{Text: gemini.ConnectionText, Sources: []gemini.Source{}}}
	explainer := NewConceptExplainer(fake, nil, nil, nil)

	r := explainer.Explain(context.Background(), "u1", "ETF")
	assert.Equal(t, StateError, r.State)
	assert.Contains(t, r.HTML, "Intenta más tarde")
}

func TestConceptExplainer_EmptyConceptIsRejected(t *testing.T) {
	fake := &fakePrompter{}
	explainer := NewConceptExplainer(fake, nil, nil, nil)

	r := explainer.Explain(context.Background(), "u1", "")
	assert.Equal(t, StateRejected, r.State)
	assert.Contains(t, r.HTML, conceptRequiredText)
	assert.Empty(t, fake.prompts)
}

// blockingPrompter waits for its context to end before replying.
type blockingPrompter struct {
	started chan struct{}
}

func (b *blockingPrompter) Invoke(ctx context.Context, _ gemini.Prompt) gemini.Envelope {
	close(b.started)
	<-ctx.Done()
	return gemini.Envelope{Text: gemini.ConnectionText, Sources: []gemini.Source{}}
}

func TestGoalPlanner_LaterInvocationSupersedes(t *testing.T) {
	tasks := task.NewSupervisor()
	sink := &recordingSink{}

	slow := &blockingPrompter{started: make(chan struct{})}
	first := NewGoalPlanner(slow, sink, tasks, nil)

	result := make(chan Render, 1)
	go func() { result <- first.Generate(context.Background(), "u1", "bicicleta") }()
	<-slow.started

	fast := &fakePrompter{reply: gemini.Envelope{Text: bicicletaPlan, Sources: []gemini.Source{}}}
	second := NewGoalPlanner(fast, sink, tasks, nil)
	r2 := second.Generate(context.Background(), "u1", "bicicleta")
	assert.Equal(t, StateSuccess, r2.State)

	select {
	case r1 := <-result:
		assert.Equal(t, StateSuperseded, r1.State)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded call did not return")
	}

	assert.Equal(t, []State{StateInProgress, StateInProgress, StateSuccess}, sink.states())
}

func TestRenderMessage(t *testing.T) {
	assert.Equal(t, `<p class="text-red-500">a &lt;b&gt;</p>`, message("text-red-500", "a <b>"))

	broken := template.Must(template.New("broken").Parse(`<p class="{{.Class}}">{{.Missing}}</p>`))
	assert.Equal(t, "<p>a &lt;b&gt;</p>", renderMessage(broken, "text-red-500", "a <b>"))
}
