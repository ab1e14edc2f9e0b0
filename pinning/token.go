package pinning

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// prefixes that mark an access token as the name of an environment variable
var envTokenPrefixes = []string{"env:", "$$"}

type (
	// A TokenSource resolves the bearer credential for a pinning service.
	TokenSource interface {
		Token() (string, error)
	}

	// StaticToken is a literal access token.
	StaticToken string

	// EnvToken is the name of an environment variable holding the access
	// token.
	EnvToken string

	// TokenFunc adapts a function to a TokenSource.
	TokenFunc func() (string, error)
)

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", errors.New("access token is empty")
	}
	return string(t), nil
}

// Token implements TokenSource.
func (t EnvToken) Token() (string, error) {
	v, ok := os.LookupEnv(string(t))
	if !ok {
		return "", fmt.Errorf("environment variable %q is not set", string(t))
	} else if v == "" {
		return "", fmt.Errorf("environment variable %q is empty", string(t))
	}
	return v, nil
}

// Token implements TokenSource.
func (fn TokenFunc) Token() (string, error) {
	return fn()
}

// ParseTokenSource returns the TokenSource described by s. A value
// prefixed with "env:" or "$$" is read from the named environment variable,
// anything else is used verbatim.
func ParseTokenSource(s string) TokenSource {
	for _, prefix := range envTokenPrefixes {
		if strings.HasPrefix(s, prefix) {
			return EnvToken(strings.TrimPrefix(s, prefix))
		}
	}
	return StaticToken(s)
}
