package auth

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// APIKeyStore resolves static API keys loaded from a YAML file. Keys are
// stored as bcrypt hashes; the plaintext never touches disk.
type APIKeyStore struct {
	entries []apiKeyEntry
}

type apiKeyEntry struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	Hash string `yaml:"hash"`
}

type apiKeyFile struct {
	Keys []apiKeyEntry `yaml:"keys"`
}

// LoadAPIKeys reads the key file. An empty path yields an empty store,
// which rejects every key.
func LoadAPIKeys(path string) (*APIKeyStore, error) {
	if path == "" {
		return &APIKeyStore{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api key file: %w", err)
	}
	var f apiKeyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse api key file: %w", err)
	}
	for i, e := range f.Keys {
		if e.Name == "" || e.Hash == "" {
			return nil, fmt.Errorf("api key entry %d missing name or hash", i)
		}
		if e.Role == "" {
			f.Keys[i].Role = RoleViewer
		}
	}
	return &APIKeyStore{entries: f.Keys}, nil
}

// Validate checks a presented key against every stored hash and returns
// the matching identity. bcrypt comparison is constant-time per entry.
func (s *APIKeyStore) Validate(key string) (*UserContext, error) {
	for _, e := range s.entries {
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(key)) == nil {
			return &UserContext{
				UserID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(e.Name)),
				Username: e.Name,
				Role:     e.Role,
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown api key")
}

// HashKey produces a bcrypt hash suitable for the key file. Used by
// operator tooling, not at request time.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
