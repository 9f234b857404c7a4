package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// splitRef splits "name#field". field is empty when the reference has none.
func splitRef(ref string) (name, field string) {
	name, field, _ = strings.Cut(ref, "#")
	return name, field
}

// pickField returns fields[field] as a string. Numbers are accepted since
// credential documents often store the port that way.
func pickField(fields map[string]any, field, where string) (string, error) {
	v, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("field %q not found in %s", field, where)
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case float64, json.Number:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("field %q in %s is not a string", field, where)
	}
}

// readVault resolves "path#field" against Vault. Address, token and
// namespace come from VAULT_ADDR, VAULT_TOKEN and VAULT_NAMESPACE.
func readVault(ctx context.Context, ref string) (string, error) {
	path, field := splitRef(ref)
	if path == "" || field == "" {
		return "", fmt.Errorf("invalid Vault reference %q: want path#field", ref)
	}
	if os.Getenv("VAULT_ADDR") == "" {
		return "", errors.New("VAULT_ADDR is not set")
	}

	vcfg := api.DefaultConfig()
	if vcfg.Error != nil {
		return "", fmt.Errorf("vault config: %w", vcfg.Error)
	}
	client, err := api.NewClient(vcfg)
	if err != nil {
		return "", fmt.Errorf("vault client: %w", err)
	}
	if client.Token() == "" {
		return "", errors.New("VAULT_TOKEN is not set")
	}

	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault: nothing at %s", path)
	}

	fields := secret.Data
	// KV v2 nests the payload under data.
	if inner, ok := fields["data"].(map[string]any); ok {
		fields = inner
	}
	return pickField(fields, field, "vault secret "+path)
}

// readAWSSecret resolves "name" or "name#field" against Secrets Manager.
// With a field the secret string must be a JSON object, the layout RDS
// uses for managed credentials.
func readAWSSecret(ctx context.Context, ref string) (string, error) {
	name, field := splitRef(ref)
	if name == "" {
		return "", fmt.Errorf("invalid AWS secret reference %q", ref)
	}

	acfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("aws config: %w", err)
	}
	out, err := secretsmanager.NewFromConfig(acfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("aws secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("aws secret %q is binary", name)
	}
	return secretField(*out.SecretString, field, name)
}

func secretField(raw, field, name string) (string, error) {
	if field == "" {
		return raw, nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("aws secret %q is not a JSON object: %w", name, err)
	}
	return pickField(fields, field, "aws secret "+name)
}
