package features

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"finanzas-backend/internal/gemini"
	"finanzas-backend/internal/task"
)

const plannerInstruction = "Eres un planificador financiero amigable para adolescentes. " +
	"Debes tomar una meta de ahorro simple y desglosarla en un plan estructurado en formato JSON. " +
	"Calcula tiempos realistas basándote en un ahorro semanal moderado (máximo $20 USD o equivalente en la moneda local). " +
	"La respuesta debe ser solo el JSON. No uses divisas en los campos de coste/ahorro, solo el monto numérico."

const (
	goalRequiredText = "Por favor, ingresa una meta de ahorro."
	goalProgressText = "Generando plan... 🔄"
)

// Plan is the structured savings plan the model is asked to return.
type Plan struct {
	Meta             string   `json:"meta"`
	CostoEstimado    string   `json:"costoEstimado"`
	AhorroSemanal    string   `json:"ahorroSemanal"`
	DuracionEstimada string   `json:"duracionEstimada"`
	Pasos            []string `json:"pasos"`
}

var errMissingSteps = errors.New("plan has no steps")

// PlanSchema describes Plan for the model's structured output mode.
func PlanSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"meta":             {Type: genai.TypeString, Description: "La meta de ahorro ingresada."},
			"costoEstimado":    {Type: genai.TypeString, Description: "Estimación de costo del artículo."},
			"ahorroSemanal":    {Type: genai.TypeString, Description: "Monto de ahorro sugerido por semana."},
			"duracionEstimada": {Type: genai.TypeString, Description: "Duración total para alcanzar la meta (ej. 10 semanas)."},
			"pasos": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		PropertyOrdering: []string{"meta", "costoEstimado", "ahorroSemanal", "duracionEstimada", "pasos"},
	}
}

var planTmpl = template.Must(template.New("plan").Parse(
	`<h4 class="font-bold text-[#00A6FB] mb-2">Plan para: {{.Meta}}</h4>` +
		`<p><strong>Costo Estimado:</strong> ${{.CostoEstimado}}</p>` +
		`<p><strong>Ahorro Semanal Necesario:</strong> ${{.AhorroSemanal}}</p>` +
		`<p><strong>Duración Estimada:</strong> {{.DuracionEstimada}}</p>` +
		`<h5 class="font-semibold mt-3 mb-1">Pasos Clave:</h5>` +
		`<ol class="list-decimal list-inside ml-4 space-y-1">{{range .Pasos}}<li>{{.}}</li>{{end}}</ol>`))

// GoalPlanner turns a savings goal into a structured plan.
type GoalPlanner struct {
	client Prompter
	sink   Sink
	tasks  *task.Supervisor
	logger *zap.Logger
}

func NewGoalPlanner(client Prompter, sink Sink, tasks *task.Supervisor, logger *zap.Logger) *GoalPlanner {
	if sink == nil {
		sink = DiscardSink
	}
	if tasks == nil {
		tasks = task.NewSupervisor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoalPlanner{client: client, sink: sink, tasks: tasks, logger: logger}
}

// Generate builds a plan for goal on behalf of userID. A newer Generate for
// the same user supersedes this one; the superseded call returns a
// StateSuperseded render and delivers nothing further.
func (g *GoalPlanner) Generate(ctx context.Context, userID, goal string) Render {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		r := Render{Region: RegionGoal, State: StateRejected, HTML: message("text-red-500", goalRequiredText)}
		g.deliver(ctx, userID, r)
		return r
	}

	ctx, done := g.tasks.Begin(ctx, taskKey(userID, RegionGoal))
	defer done()

	g.deliver(ctx, userID, Render{
		Region: RegionGoal,
		State:  StateInProgress,
		HTML:   message("text-center text-[#00A6FB] font-semibold", goalProgressText),
	})

	env := g.client.Invoke(ctx, gemini.Prompt{
		SystemInstruction: plannerInstruction,
		Query:             fmt.Sprintf("Mi meta de ahorro es: %s. Desglosa los pasos, el tiempo estimado y el ahorro semanal necesario.", goal),
		Schema:            PlanSchema(),
	})

	if task.Superseded(ctx) {
		return Render{Region: RegionGoal, State: StateSuperseded}
	}

	r := g.render(env.Text)
	g.deliver(ctx, userID, r)
	return r
}

func (g *GoalPlanner) render(text string) Render {
	plan, err := ParsePlan(text)
	if err != nil {
		g.logger.Warn("plan response is not valid JSON", zap.Error(err), zap.String("text", text))
		return Render{
			Region: RegionGoal,
			State:  StateError,
			HTML:   message("text-red-500", "Error: El planificador no pudo generar un formato válido. Mensaje de la API: "+text),
		}
	}

	var buf bytes.Buffer
	if err := planTmpl.Execute(&buf, plan); err != nil {
		g.logger.Error("failed to render plan", zap.Error(err))
		return Render{Region: RegionGoal, State: StateError, HTML: message("text-red-500", "Error: "+err.Error())}
	}
	return Render{Region: RegionGoal, State: StateSuccess, HTML: buf.String()}
}

func (g *GoalPlanner) deliver(ctx context.Context, userID string, r Render) {
	if err := g.sink.Deliver(ctx, userID, r); err != nil {
		g.logger.Debug("render delivery failed", zap.String("region", string(r.Region)), zap.Error(err))
	}
}

// ParsePlan decodes the model's JSON text into a Plan. Markdown code fences
// around the JSON are tolerated.
func ParsePlan(text string) (Plan, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if plan.Pasos == nil {
		return Plan{}, errMissingSteps
	}
	return plan, nil
}
