// Package gemini talks to the Gemini generateContent REST endpoint and
// normalizes every outcome, including failures, into an Envelope.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"finanzas-backend/internal/backoff"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash-preview-09-2025"
)

// Fixed texts returned instead of errors.
const (
	SimulatedText = "Este es un plan generado mediante una simulación debido a que la API Key no está configurada. " +
		"El plan incluye un Costo Estimado de $150, Ahorro Semanal Sugerido de $15, y Duración Estimada de 10 Semanas. " +
		"Pasos: 1. Investigar modelos, 2. Crear un presupuesto estricto, 3. Ahorrar el monto semanal."
	DiagnosticText = "Error: No se pudo generar la respuesta. Revisa los registros del servidor para más detalles."
	ConnectionText = "Error de conexión con la API o error de red. Intenta más tarde."
)

// Options configures a Client.
type Options struct {
	APIKey             string
	Model              string
	BaseURL            string
	MaxAttempts        int
	ConcurrentRequests int
}

type Client struct {
	apiKey      string
	endpoint    string
	maxAttempts int
	fetcher     *backoff.Fetcher
	logger      *zap.Logger
	rateChan    chan struct{} // Token bucket
}

func NewClient(opts Options, fetcher *backoff.Fetcher, logger *zap.Logger) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = backoff.DefaultMaxAttempts
	}
	if opts.ConcurrentRequests < 1 {
		opts.ConcurrentRequests = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = backoff.NewFetcher(nil, backoff.WithLogger(logger))
	}

	rateChan := make(chan struct{}, opts.ConcurrentRequests)
	for i := 0; i < opts.ConcurrentRequests; i++ {
		rateChan <- struct{}{}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(opts.BaseURL, "/"), opts.Model, url.QueryEscape(opts.APIKey))

	return &Client{
		apiKey:      opts.APIKey,
		endpoint:    endpoint,
		maxAttempts: opts.MaxAttempts,
		fetcher:     fetcher,
		logger:      logger,
		rateChan:    rateChan,
	}
}

// Simulated reports whether the client answers without calling the API.
func (c *Client) Simulated() bool {
	return c.apiKey == ""
}

// acquireRate blocks until a rate slot is available
func (c *Client) acquireRate(ctx context.Context) error {
	select {
	case <-c.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (c *Client) releaseRate() {
	c.rateChan <- struct{}{}
}

// Invoke sends p to the model. It never returns an error: every failure is
// reported as a fixed text inside the Envelope.
func (c *Client) Invoke(ctx context.Context, p Prompt) Envelope {
	if c.Simulated() {
		c.logger.Warn("Gemini API key not configured, returning simulated response")
		return Envelope{Text: SimulatedText, Sources: []Source{}}
	}

	body, err := json.Marshal(buildRequest(p))
	if err != nil {
		c.logger.Error("failed to encode Gemini request", zap.Error(err))
		return connectionFailure()
	}

	if err := c.acquireRate(ctx); err != nil {
		c.logger.Error("Gemini rate slot unavailable", zap.Error(err))
		return connectionFailure()
	}
	defer c.releaseRate()

	resp, err := c.fetcher.Fetch(ctx, c.endpoint, backoff.RequestOptions{
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, c.maxAttempts)
	if err != nil {
		c.logger.Error("Gemini API call failed", zap.Error(err))
		return connectionFailure()
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Error("failed to decode Gemini response",
			zap.Int("status", resp.StatusCode), zap.Error(err))
		return connectionFailure()
	}

	env, ok := normalize(result, p.UseGrounding)
	if !ok {
		c.logger.Error("Gemini response has no candidate text",
			zap.Int("status", resp.StatusCode), zap.Int("candidates", len(result.Candidates)))
		return Envelope{Text: DiagnosticText, Sources: []Source{}}
	}
	return env
}

// buildRequest sets optional fields explicitly. The system instruction and the
// schema settings live under disjoint keys of the same config object.
func buildRequest(p Prompt) generateRequest {
	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: p.Query}}}},
	}
	if p.UseGrounding {
		req.Tools = []tool{{GoogleSearch: &googleSearch{}}}
	}
	if p.SystemInstruction != "" || p.Schema != nil {
		req.Config = &generateConfig{SystemInstruction: p.SystemInstruction}
	}
	if p.Schema != nil {
		req.Config.ResponseMimeType = "application/json"
		req.Config.ResponseSchema = p.Schema
	}
	return req
}

func normalize(resp generateResponse, grounded bool) (Envelope, bool) {
	if len(resp.Candidates) == 0 {
		return Envelope{}, false
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 || cand.Content.Parts[0].Text == "" {
		return Envelope{}, false
	}

	sources := []Source{}
	if grounded && cand.GroundingMetadata != nil {
		for _, attr := range cand.GroundingMetadata.GroundingAttributions {
			if attr.Web == nil || attr.Web.URI == "" || attr.Web.Title == "" {
				continue
			}
			sources = append(sources, Source{URI: attr.Web.URI, Title: attr.Web.Title})
		}
	}
	return Envelope{Text: cand.Content.Parts[0].Text, Sources: sources}, true
}

func connectionFailure() Envelope {
	return Envelope{Text: ConnectionText, Sources: []Source{}}
}
