package contexts

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format is a serialization format for contexts.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user supplied name to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", errors.Errorf("unsupported format %q", s)
	}
}

// Marshal encodes c.
func Marshal(c *Context, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		out, err := yaml.Marshal(c)
		return out, errors.Wrap(err, "failed to encode context as yaml")
	case FormatJSON, "":
		out, err := json.MarshalIndent(c, "", "  ")
		return out, errors.Wrap(err, "failed to encode context as json")
	default:
		return nil, errors.Errorf("unsupported format %q", format)
	}
}

// Unmarshal decodes a context in either JSON or YAML form.
func Unmarshal(blob []byte) (*Context, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, errors.New("empty context payload")
	}
	c := &Context{}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, c); err != nil {
			return nil, errors.Wrap(err, "failed to decode json context")
		}
	} else if err := yaml.Unmarshal(trimmed, c); err != nil {
		return nil, errors.Wrap(err, "failed to decode yaml context")
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, errors.Wrap(ErrInvalidName, "decoded context has no name")
	}
	for i, msg := range c.Messages {
		if !msg.Role.Valid() {
			return nil, errors.Errorf("message %d has invalid role %q", i, msg.Role)
		}
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return c, nil
}

// Serialize encodes the named context.
func (m *Manager) Serialize(name string, format Format) ([]byte, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return Marshal(c, format)
}

// Deserialize decodes blob into a detached context; use Load to install it.
func (m *Manager) Deserialize(blob []byte) (*Context, error) {
	return Unmarshal(blob)
}
