// Package features implements the two AI-assisted page features: the savings
// goal planner and the financial concept explainer. Each handler takes typed
// input and returns a Render describing what the page should show.
package features

import (
	"bytes"
	"context"
	"html/template"

	"finanzas-backend/internal/gemini"
)

// Region identifies the output area on the page a Render targets.
type Region string

const (
	RegionGoal    Region = "goalOutput"
	RegionConcept Region = "conceptOutput"
)

// State is the lifecycle state a Render reports.
type State string

const (
	StateRejected   State = "rejected"
	StateInProgress State = "in_progress"
	StateSuccess    State = "success"
	StateError      State = "error"
	StateSuperseded State = "superseded"
)

// Render is a render instruction: replace the content of Region with HTML.
type Render struct {
	Region Region `json:"region"`
	State  State  `json:"state"`
	HTML   string `json:"html"`
}

// Terminal reports whether no further render follows this one.
func (r Render) Terminal() bool {
	return r.State != StateInProgress
}

// Prompter is the model client the features call.
type Prompter interface {
	Invoke(ctx context.Context, p gemini.Prompt) gemini.Envelope
}

// Sink receives renders for a user as they are produced.
type Sink interface {
	Deliver(ctx context.Context, userID string, r Render) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, userID string, r Render) error

func (f SinkFunc) Deliver(ctx context.Context, userID string, r Render) error {
	return f(ctx, userID, r)
}

// DiscardSink drops every render.
var DiscardSink Sink = SinkFunc(func(context.Context, string, Render) error { return nil })

var messageTmpl = template.Must(template.New("message").Parse(
	`<p class="{{.Class}}">{{.Text}}</p>`))

func message(class, text string) string {
	return renderMessage(messageTmpl, class, text)
}

// renderMessage falls back to a bare escaped paragraph if tmpl fails, so a
// render never carries half-written or unescaped markup.
func renderMessage(tmpl *template.Template, class, text string) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Class, Text string }{class, text}); err != nil {
		return "<p>" + template.HTMLEscapeString(text) + "</p>"
	}
	return buf.String()
}

func taskKey(userID string, region Region) string {
	return userID + ":" + string(region)
}
