package authtoken

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pantrykeep/mealimages/internal/domain"
)

type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

type static struct {
	token string
}

func (s static) GetToken(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", domain.ErrNoAuthToken
	}
	return s.token, nil
}

func NewStatic(token string) TokenProvider {
	return static{token: strings.TrimSpace(token)}
}

// file reads the token from a mounted secret on every call so rotated secrets are picked up
type file struct {
	path string
}

func (f file) GetToken(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: token file %s does not exist", domain.ErrNoAuthToken, f.path)
	} else if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: token file %s is empty", domain.ErrNoAuthToken, f.path)
	}
	return token, nil
}

func NewFile(path string) TokenProvider {
	return file{path: path}
}
