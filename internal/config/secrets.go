package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/giantswarm/mcpgate/pkg/oauth"
)

const (
	secretRefEnv  = "env:"
	secretRefFile = "file:"
)

// IsSecretRef reports whether ref uses a supported secret reference scheme.
func IsSecretRef(ref string) bool {
	return strings.HasPrefix(ref, secretRefEnv) || strings.HasPrefix(ref, secretRefFile)
}

// ResolveSecret reads the secret a reference points at. References are
// "env:NAME" or "file:/path"; file contents are trimmed of surrounding whitespace.
// The secret comes back wrapped so it cannot end up in logs; neither does the
// returned error ever contain it.
func ResolveSecret(ref string) (oauth.RedactedToken, error) {
	switch {
	case strings.HasPrefix(ref, secretRefEnv):
		name := strings.TrimPrefix(ref, secretRefEnv)
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			return oauth.RedactedToken{}, fmt.Errorf("environment variable %s is not set", name)
		}
		return oauth.NewRedactedToken(value), nil
	case strings.HasPrefix(ref, secretRefFile):
		path := strings.TrimPrefix(ref, secretRefFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return oauth.RedactedToken{}, fmt.Errorf("failed to read secret file %s: %w", path, err)
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return oauth.RedactedToken{}, fmt.Errorf("secret file %s is empty", path)
		}
		return oauth.NewRedactedToken(value), nil
	default:
		return oauth.RedactedToken{}, fmt.Errorf("unsupported secret reference %q", redactRef(ref))
	}
}

func redactRef(ref string) string {
	if i := strings.Index(ref, ":"); i > 0 {
		return ref[:i+1] + "..."
	}
	return "..."
}
