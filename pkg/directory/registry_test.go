package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
)

type stubReader struct{}

func newStubReader(cfg *config.DirectoryConfig, logger *zap.Logger) (Reader, error) {
	return &stubReader{}, nil
}

func (s *stubReader) Name() string { return "stub" }

func (s *stubReader) Users(ctx context.Context) ([]User, error) {
	return nil, nil
}

func (s *stubReader) Groups(ctx context.Context) ([]Group, error) {
	return nil, nil
}

func (s *stubReader) UserMemberships(ctx context.Context) ([]Member, error) {
	return nil, nil
}

func (s *stubReader) GroupMemberships(ctx context.Context) ([]Member, error) {
	return nil, nil
}

func (s *stubReader) Close() error { return nil }

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("stub", newStubReader)
	require.NoError(t, err)

	err = registry.Register("stub", newStubReader)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Open(t *testing.T) {
	registry := NewRegistry()
	registry.Register("stub", newStubReader)

	d, err := registry.Open(context.Background(), &config.DirectoryConfig{Driver: "stub"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "stub", d.Name())

	_, err = registry.Open(context.Background(), &config.DirectoryConfig{Driver: "nonexistent"}, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()
	registry.Register("a", newStubReader)
	registry.Register("b", newStubReader)

	assert.ElementsMatch(t, []string{"a", "b"}, registry.List())
	assert.True(t, registry.Has("a"))
	assert.False(t, registry.Has("c"))
}
