package gemini

import "google.golang.org/genai"

// Source is a grounding attribution returned alongside generated text.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Envelope is the normalized result of Invoke. Sources is never nil.
type Envelope struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Failed reports whether the envelope carries one of the fixed failure texts.
func (e Envelope) Failed() bool {
	return e.Text == DiagnosticText || e.Text == ConnectionText
}

// Prompt is one request to the model. Schema, when set, switches the model to
// JSON output constrained by the schema. Grounding and Schema are independent.
type Prompt struct {
	SystemInstruction string
	Query             string
	UseGrounding      bool
	Schema            *genai.Schema
}

// Wire format of the generateContent request.

type generateRequest struct {
	Contents []content       `json:"contents"`
	Tools    []tool          `json:"tools,omitempty"`
	Config   *generateConfig `json:"config,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type googleSearch struct{}

type tool struct {
	GoogleSearch *googleSearch `json:"google_search,omitempty"`
}

type generateConfig struct {
	SystemInstruction string        `json:"systemInstruction,omitempty"`
	ResponseMimeType  string        `json:"responseMimeType,omitempty"`
	ResponseSchema    *genai.Schema `json:"responseSchema,omitempty"`
}

// Wire format of the generateContent response. Only the fields we read.

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content           *responseContent   `json:"content"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata"`
}

type responseContent struct {
	Parts []part `json:"parts"`
}

type groundingMetadata struct {
	GroundingAttributions []groundingAttribution `json:"groundingAttributions"`
}

type groundingAttribution struct {
	Web *webSource `json:"web"`
}

type webSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}
