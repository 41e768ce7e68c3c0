package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aristath/restock/internal/domain"
)

// ErrNoCredentials is returned when the rotation is empty
var ErrNoCredentials = errors.New("no marketplace credentials configured")

// credentialFile is one entry of the credentials JSON file
type credentialFile struct {
	Name    string            `json:"name"`
	Token   string            `json:"token"`
	Cookies map[string]string `json:"cookies"`
}

// Rotation hands out credentials round-robin. It is safe for concurrent use.
type Rotation struct {
	mu    sync.Mutex
	creds []domain.Credential
	next  int
}

// NewRotation creates a rotation over the given credentials
func NewRotation(creds []domain.Credential) *Rotation {
	cp := make([]domain.Credential, len(creds))
	copy(cp, creds)
	return &Rotation{creds: cp}
}

// LoadCredentials reads a JSON array of {name, token, cookies} objects
func LoadCredentials(path string) (*Rotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var entries []credentialFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	creds := make([]domain.Credential, 0, len(entries))
	for i, e := range entries {
		if e.Token == "" {
			return nil, fmt.Errorf("credential %d has no token", i)
		}
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("credential-%d", i+1)
		}
		creds = append(creds, domain.Credential{Name: name, Token: e.Token, Cookies: e.Cookies})
	}
	return NewRotation(creds), nil
}

// Next returns the next credential in rotation
func (r *Rotation) Next() (domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.creds) == 0 {
		return domain.Credential{}, ErrNoCredentials
	}
	c := r.creds[r.next]
	r.next = (r.next + 1) % len(r.creds)
	return c, nil
}

// Len returns the number of credentials in rotation
func (r *Rotation) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds)
}
