package taskwatch

import (
	"errors"
	"os"
	"strings"
)

// ErrNoToken is returned when no auth token is stored. Launch short-circuits
// on it without touching the network.
var ErrNoToken = errors.New("no auth token stored")

// TokenStore supplies the bearer token attached to API requests.
type TokenStore interface {
	// Token returns the stored token, or ErrNoToken if none is available.
	Token() (string, error)
}

// FileTokenStore reads the token from a local file, the persistent client
// storage used by the CLI. The file holds the bare token, optionally with
// surrounding whitespace.
type FileTokenStore struct {
	Path string
}

var _ TokenStore = (*FileTokenStore)(nil)

func (f *FileTokenStore) Token() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// StaticToken is a TokenStore holding a fixed token, empty meaning none.
type StaticToken string

var _ TokenStore = StaticToken("")

func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
