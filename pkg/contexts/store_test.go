package contexts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext(name string) *Context {
	return &Context{
		Name:        name,
		TokenBudget: 100,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Messages: []Message{
			NewMessage(RoleUser, "What changed?"),
			NewMessage(RoleAssistant, "Two fixes and a feature."),
			NewMessage(RoleAgent, "[execute] 2"),
		},
	}
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotStored)

	original := sampleContext("release-1")
	require.NoError(t, s.Save(ctx, original))

	loaded, err := s.Load(ctx, "release-1")
	require.NoError(t, err)
	assert.Equal(t, "release-1", loaded.Name)
	assert.Equal(t, 100, loaded.TokenBudget)
	require.Len(t, loaded.Messages, 3)
	for i := range original.Messages {
		assert.Equal(t, original.Messages[i].ID, loaded.Messages[i].ID)
		assert.Equal(t, original.Messages[i].Role, loaded.Messages[i].Role)
		assert.Equal(t, original.Messages[i].Content, loaded.Messages[i].Content)
		assert.True(t, original.Messages[i].Timestamp.Equal(loaded.Messages[i].Timestamp))
	}

	original.Messages = original.Messages[:1]
	require.NoError(t, s.Save(ctx, original), "saving again overwrites")
	loaded, err = s.Load(ctx, "release-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1)

	require.NoError(t, s.Save(ctx, sampleContext("release-2")))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	names := []string{list[0].Name, list[1].Name}
	assert.ElementsMatch(t, []string{"release-1", "release-2"}, names)

	require.NoError(t, s.Delete(ctx, "release-1"))
	assert.ErrorIs(t, s.Delete(ctx, "release-1"), ErrNotStored)
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].MessageCount)

	assert.Error(t, s.Save(ctx, sampleContext("../escape")))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "contexts"))
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "playbook.db"))
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	_, err := OpenStore(ctx, "json", "")
	assert.Error(t, err)

	_, err = OpenStore(ctx, "redis", "")
	assert.Error(t, err)

	s, err := OpenStore(ctx, "json", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
}

func TestSerializeRoundTrip(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(sampleContext("notes")))

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			blob, err := m.Serialize("notes", format)
			require.NoError(t, err)

			c, err := m.Deserialize(blob)
			require.NoError(t, err)
			assert.Equal(t, "notes", c.Name)
			require.Len(t, c.Messages, 3)
			assert.Equal(t, RoleAssistant, c.Messages[1].Role)
		})
	}
}

func TestDeserializeRejectsInvalid(t *testing.T) {
	_, err := Unmarshal([]byte("   "))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"messages": []}`))
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = Unmarshal([]byte("name: x\nmessages:\n  - role: system\n    content: hi\n"))
	assert.Error(t, err)

	c, err := Unmarshal([]byte("name: x\n"))
	require.NoError(t, err)
	assert.NotNil(t, c.Messages)

	_, err = ParseFormat("toml")
	assert.Error(t, err)
}
