package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// kvServer serves one KV v2 secret at /v1/<path> for the given token.
func kvServer(t *testing.T, path, token string, fields map[string]any) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != token {
			http.Error(w, "permission denied", http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/"+path {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": fields, "metadata": map[string]any{"version": 3}},
		})
	}))
	t.Cleanup(srv.Close)
	t.Setenv("VAULT_ADDR", srv.URL)
	t.Setenv("VAULT_TOKEN", token)
	t.Setenv("VAULT_NAMESPACE", "")
}

func TestReadVault(t *testing.T) {
	kvServer(t, "secret/data/payroll", "tok", map[string]any{"password": "s3cret", "port": 1433})

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr string
	}{
		{name: "string field", ref: "secret/data/payroll#password", want: "s3cret"},
		{name: "numeric field", ref: "secret/data/payroll#port", want: "1433"},
		{name: "missing field", ref: "secret/data/payroll#username", wantErr: `field "username" not found`},
		{name: "missing secret", ref: "secret/data/other#password", wantErr: "secret/data/other"},
		{name: "no field", ref: "secret/data/payroll", wantErr: "want path#field"},
		{name: "no path", ref: "#password", wantErr: "want path#field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readVault(context.Background(), tt.ref)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestReadVault_WrongToken(t *testing.T) {
	kvServer(t, "secret/data/payroll", "tok", map[string]any{"password": "s3cret"})
	t.Setenv("VAULT_TOKEN", "other")

	if _, err := readVault(context.Background(), "secret/data/payroll#password"); err == nil {
		t.Error("expected error for a rejected token")
	}
}

func TestReadVault_MissingEnv(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "tok")
	if _, err := readVault(context.Background(), "secret/data/p#k"); err == nil || !strings.Contains(err.Error(), "VAULT_ADDR") {
		t.Errorf("expected VAULT_ADDR error, got %v", err)
	}

	t.Setenv("VAULT_ADDR", "http://127.0.0.1:1")
	t.Setenv("VAULT_TOKEN", "")
	if _, err := readVault(context.Background(), "secret/data/p#k"); err == nil || !strings.Contains(err.Error(), "VAULT_TOKEN") {
		t.Errorf("expected VAULT_TOKEN error, got %v", err)
	}
}

func TestResolveValue_Vault(t *testing.T) {
	kvServer(t, "secret/data/colmask", "tok", map[string]any{"db_pass": "hunter2"})

	got, err := ResolveValue(context.Background(), "${VAULT:secret/data/colmask#db_pass}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("expected hunter2, got %q", got)
	}
}

func TestSecretField(t *testing.T) {
	rds := `{"username":"masker","password":"pw","port":5432}`

	tests := []struct {
		name    string
		raw     string
		field   string
		want    string
		wantErr bool
	}{
		{name: "whole secret", raw: "plain-password", want: "plain-password"},
		{name: "json field", raw: rds, field: "password", want: "pw"},
		{name: "json number", raw: rds, field: "port", want: "5432"},
		{name: "missing field", raw: rds, field: "host", wantErr: true},
		{name: "not json", raw: "plain-password", field: "password", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := secretField(tt.raw, tt.field, "colmask/db")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolveValue_AWSSM_NoCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	t.Setenv("AWS_CONFIG_FILE", dir+"/config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", dir+"/credentials")

	if _, err := ResolveValue(context.Background(), "${AWS_SM:colmask/db#password}"); err == nil {
		t.Error("expected error when AWS credentials are not configured")
	}
}
