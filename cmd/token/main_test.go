package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"callbilling/internal/auth"
	"callbilling/internal/config"
)

var testAuth = config.AuthConfig{
	JWTSecret:       "secret",
	AccessTokenTTL:  time.Minute,
	RefreshTokenTTL: time.Hour,
}

func loadTestAuth() (config.AuthConfig, error) { return testAuth, nil }

func TestTokenCmd_IssuesVerifiablePair(t *testing.T) {
	cmd := newRootCmd(loadTestAuth)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--user", "42", "--role", "admin"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command failed: %v", err)
	}

	var out map[string]string
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not json: %v", err)
	}

	m, err := auth.NewManager(testAuth)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	claims, err := m.Verify(out["access_token"], auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "42" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenCmd_Validation(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"--user", "42", "--role", "owner"},
	} {
		cmd := newRootCmd(loadTestAuth)
		cmd.SetOut(new(bytes.Buffer))
		cmd.SetArgs(args)
		if err := cmd.Execute(); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}
