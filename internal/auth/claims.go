package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Tokens identify a support agent (or an automation principal acting as one);
// the webhook surface is unauthenticated and never sees these.
type Claims struct {
	jwt.RegisteredClaims

	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}
