package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_CapturesZerologEvents(t *testing.T) {
	buf := NewBuffer(10)
	logger := zerolog.New(buf).With().Timestamp().Logger()

	logger.Info().Str("cmp", "lifecycle").Str("work_item_id", "a").Msg("first")
	logger.Error().Str("cmp", "trackersync").Int("issue", 42).Msg("second")

	entries := buf.Recent(Filter{})
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Message, "newest first")
	assert.Equal(t, "error", entries[0].Level)
	assert.Equal(t, "trackersync", entries[0].Component)
	assert.EqualValues(t, 42, entries[0].Fields["issue"])
	assert.Equal(t, "a", entries[1].WorkItemID)
}

func TestBuffer_Filter(t *testing.T) {
	buf := NewBuffer(10)
	logger := zerolog.New(buf)

	logger.Info().Str("cmp", "lifecycle").Msg("one")
	logger.Warn().Str("cmp", "lifecycle").Msg("two")
	logger.Info().Str("cmp", "kanban").Msg("three")

	assert.Len(t, buf.Recent(Filter{Component: "lifecycle"}), 2)
	assert.Len(t, buf.Recent(Filter{Level: "warn"}), 1)
	assert.Len(t, buf.Recent(Filter{Limit: 1}), 1)
}

func TestBuffer_WrapsAround(t *testing.T) {
	buf := NewBuffer(3)
	logger := zerolog.New(buf)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		logger.Info().Msg(msg)
	}

	entries := buf.Recent(Filter{})
	require.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].Message)
	assert.Equal(t, "c", entries[2].Message)
}

func TestBuffer_Handlers(t *testing.T) {
	buf := NewBuffer(5)
	var got []string
	buf.AddHandler(func(e Entry) { got = append(got, e.Message) })

	_, err := buf.Write([]byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"not json"}, got)
}
