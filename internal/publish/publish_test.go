package publish

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/internal/logging"
)

func TestLogPublisher(t *testing.T) {
	ok, err := NewLogPublisher().Publish(context.Background(), "package main")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := strings.Repeat("x", 150)
	assert.Equal(t, strings.Repeat("x", 100)+"...", preview(long))
}

type fakeContentBus struct {
	id, content string
	err         error
}

func (f *fakeContentBus) PublishContent(ctx context.Context, id, content string) error {
	f.id, f.content = id, content
	return f.err
}

func TestNATSPublisher(t *testing.T) {
	bus := &fakeContentBus{}
	p := NewNATSPublisher(bus)

	ctx := logging.WithWorkItemID(context.Background(), "item-1")
	ok, err := p.Publish(ctx, "code")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "item-1", bus.id)
	assert.Equal(t, "code", bus.content)
}

func TestNATSPublisher_Errors(t *testing.T) {
	p := NewNATSPublisher(&fakeContentBus{err: errors.New("no responders")})

	ok, err := p.Publish(logging.WithWorkItemID(context.Background(), "x"), "code")
	assert.False(t, ok)
	assert.EqualError(t, err, "no responders")

	ok, err = p.Publish(context.Background(), "code")
	assert.False(t, ok)
	assert.Error(t, err)
}
