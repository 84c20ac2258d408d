package models

import (
	"finanzas-backend/internal/charts"
	"finanzas-backend/internal/features"
)

type PlanRequest struct {
	Goal string `json:"goal"`
}

type ConceptRequest struct {
	Concept string `json:"concept"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

// AuthResponse carries the session token the browser presents on later calls.
type AuthResponse struct {
	UID          string `json:"uid"`
	Anonymous    bool   `json:"anonymous"`
	SessionToken string `json:"session_token"`
}

type ChartsResponse struct {
	Charts []charts.Config `json:"charts"`
}

// WebSocket message types
const (
	WSTypeRender = "render"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// RenderMessage wraps r for the socket.
func RenderMessage(r features.Render) WSMessage {
	return WSMessage{Type: WSTypeRender, Payload: r}
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
