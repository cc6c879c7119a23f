package auth

import (
	"testing"
	"time"

	"voicedesk/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "issuer",
		JWTAudience:    "aud",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	now := time.Now()
	tok, err := m.IssueAccessToken(now, "agent-1", "agent")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AgentID != "agent-1" || claims.Role != "agent" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})

	now := time.Now()
	tok, err := m.IssueAccessToken(now, "agent-1", "agent")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(10*time.Minute)); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuerMgr, _ := NewManager(config.AuthConfig{JWTSecret: "secret-a", AccessTokenTTL: time.Minute})
	verifyMgr, _ := NewManager(config.AuthConfig{JWTSecret: "secret-b", AccessTokenTTL: time.Minute})

	now := time.Now()
	tok, err := issuerMgr.IssueAccessToken(now, "agent-1", "agent")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := verifyMgr.Verify(tok, now); err == nil {
		t.Fatal("expected signature mismatch to fail verification")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
