package config

import "context"

// SecretProvider resolves secret references to plaintext values. The SSM
// implementation serves deployed environments; EnvVarProvider serves local
// runs and tests.
type SecretProvider interface {
	// GetParametersBatch returns key -> value for every key it could resolve.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
