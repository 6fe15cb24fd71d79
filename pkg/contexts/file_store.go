package contexts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// FileStore keeps one JSON document per context in a directory. Reads and
// writes take file locks so concurrent CLI invocations do not interleave.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create context store directory")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Save(_ context.Context, c *Context) error {
	if err := ValidateKey(c.Name); err != nil {
		return err
	}
	data, err := Marshal(c, FormatJSON)
	if err != nil {
		return err
	}
	if err := lockedfile.Write(s.path(c.Name), bytes.NewReader(data), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write context %s", c.Name)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, name string) (*Context, error) {
	if err := ValidateKey(name); err != nil {
		return nil, err
	}
	data, err := lockedfile.Read(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotStored, "context %q", name)
		}
		return nil, errors.Wrapf(err, "failed to read context %s", name)
	}
	return Unmarshal(data)
}

func (s *FileStore) Delete(_ context.Context, name string) error {
	if err := ValidateKey(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotStored, "context %q", name)
		}
		return errors.Wrapf(err, "failed to delete context %s", name)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read context store directory")
	}
	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		c, err := s.Load(ctx, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			logger.G(ctx).WithError(err).WithField("file", e.Name()).Warn("skipping unreadable stored context")
			continue
		}
		out = append(out, c.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *FileStore) Close() error { return nil }
