package features

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"finanzas-backend/internal/gemini"
	"finanzas-backend/internal/task"
)

const explainerInstruction = "Eres un analista financiero experto. " +
	"Explica el concepto solicitado de manera clara y concisa para un adulto joven. " +
	"La explicación debe ser de un solo párrafo (máximo 5 oraciones). " +
	"Usa la información de Google Search para asegurar que la explicación esté actualizada y tenga contexto relevante al mercado actual."

const (
	conceptRequiredText = "Por favor, selecciona un concepto."
	conceptProgressText = "Buscando y explicando... 🧠"
)

var explanationTmpl = template.Must(template.New("explanation").Parse(
	`<h4 class="font-bold text-[#00E08C] mb-2">{{.Concept}}:</h4>` +
		`<div class="mb-3">{{.Body}}</div>` +
		`{{if .Sources}}<h5 class="font-semibold mt-2 text-sm">Fuentes:</h5>` +
		`<ul class="list-disc list-inside ml-4 text-xs text-gray-600 space-y-1">` +
		`{{range .Sources}}<li><a href="{{.URI}}" target="_blank" rel="noopener" class="text-[#00A6FB] hover:underline">{{.Title}}</a></li>{{end}}` +
		`</ul>{{end}}`))

// ConceptExplainer explains a financial concept using search grounding.
type ConceptExplainer struct {
	client Prompter
	sink   Sink
	tasks  *task.Supervisor
	logger *zap.Logger
	policy *bluemonday.Policy
}

func NewConceptExplainer(client Prompter, sink Sink, tasks *task.Supervisor, logger *zap.Logger) *ConceptExplainer {
	if sink == nil {
		sink = DiscardSink
	}
	if tasks == nil {
		tasks = task.NewSupervisor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConceptExplainer{
		client: client,
		sink:   sink,
		tasks:  tasks,
		logger: logger,
		policy: bluemonday.UGCPolicy(),
	}
}

// Explain asks the model to explain concept and renders the text with its
// sources. Supersession works as in GoalPlanner.Generate.
func (e *ConceptExplainer) Explain(ctx context.Context, userID, concept string) Render {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		r := Render{Region: RegionConcept, State: StateRejected, HTML: message("text-red-500", conceptRequiredText)}
		e.deliver(ctx, userID, r)
		return r
	}

	ctx, done := e.tasks.Begin(ctx, taskKey(userID, RegionConcept))
	defer done()

	e.deliver(ctx, userID, Render{
		Region: RegionConcept,
		State:  StateInProgress,
		HTML:   message("text-center text-[#00E08C] font-semibold", conceptProgressText),
	})

	env := e.client.Invoke(ctx, gemini.Prompt{
		SystemInstruction: explainerInstruction,
		Query:             fmt.Sprintf("Explícame el concepto financiero: %s.", concept),
		UseGrounding:      true,
	})

	if task.Superseded(ctx) {
		return Render{Region: RegionConcept, State: StateSuperseded}
	}

	r := e.render(concept, env)
	e.deliver(ctx, userID, r)
	return r
}

func (e *ConceptExplainer) render(concept string, env gemini.Envelope) Render {
	var buf bytes.Buffer
	err := explanationTmpl.Execute(&buf, struct {
		Concept string
		Body    template.HTML
		Sources []gemini.Source
	}{
		Concept: concept,
		Body:    e.markdown(env.Text),
		Sources: env.Sources,
	})
	if err != nil {
		e.logger.Error("failed to render explanation", zap.Error(err))
		return Render{Region: RegionConcept, State: StateError, HTML: message("text-red-500", "Error: "+err.Error())}
	}
	state := StateSuccess
	if env.Failed() {
		state = StateError
	}
	return Render{Region: RegionConcept, State: state, HTML: buf.String()}
}

// markdown converts model text to sanitized HTML, falling back to escaped text.
func (e *ConceptExplainer) markdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(e.policy.Sanitize(buf.String()))
}

func (e *ConceptExplainer) deliver(ctx context.Context, userID string, r Render) {
	if err := e.sink.Deliver(ctx, userID, r); err != nil {
		e.logger.Debug("render delivery failed", zap.String("region", string(r.Region)), zap.Error(err))
	}
}
