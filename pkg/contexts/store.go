package contexts

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
)

// ErrNotStored is returned when a stored context key does not exist.
var ErrNotStored = errors.New("stored context not found")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// ValidateKey checks that key is usable as a storage key.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return errors.Errorf("invalid context key %q: use letters, digits, '.', '-' and '_'", key)
	}
	return nil
}

// Store persists contexts by name beyond a single run.
type Store interface {
	Save(ctx context.Context, c *Context) error
	Load(ctx context.Context, name string) (*Context, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Summary, error)
	Close() error
}
