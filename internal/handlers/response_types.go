package handlers

import "github.com/xpanvictor/vera/internal/domains/orchestrator"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Something went wrong"`
	Details string `json:"details,omitempty" example:"upstream returned 502"`
}

// HealthResponse reports liveness and whether the gateway session is usable
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Gateway bool   `json:"gateway" example:"true"`
}

// StatsResponse combines session counters with per-client connection data
type StatsResponse struct {
	Status      string                 `json:"status" example:"ok"`
	Session     orchestrator.Stats     `json:"session"`
	Connections map[string]interface{} `json:"connections"`
}

// AvatarSessionResponse carries a short-lived avatar session token
type AvatarSessionResponse struct {
	SessionToken string `json:"session_token" example:"eyJhbGciOi..."`
}
