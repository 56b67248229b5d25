package runtime

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/InsulaLabs/csmap/config"
	"github.com/InsulaLabs/csmap/journal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello", "key", "value")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	logger, err = NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = NewLogger(&buf, "loud", "text")
	assert.ErrorIs(t, err, config.ErrLogLevelInvalid)

	_, err = NewLogger(&buf, "info", "xml")
	assert.ErrorIs(t, err, config.ErrLogFormatInvalid)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(config.Default(), slog.Default())
	assert.ErrorIs(t, err, config.ErrHrefMissing)
}

func TestNew_WithoutJournal(t *testing.T) {
	cfg := config.Default()
	cfg.Vcd.Href = "https://vcd.local"

	r, err := New(cfg, slog.Default())
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r.Mapper())
	_, err = r.Journal()
	assert.ErrorIs(t, err, ErrJournalDisabled)
}

func TestNew_WithJournal(t *testing.T) {
	cfg := config.Default()
	cfg.Vcd.Href = "https://vcd.local"
	cfg.Journal.Directory = filepath.Join(t.TempDir(), "journal")

	r, err := New(cfg, slog.Default())
	require.NoError(t, err)

	j, err := r.Journal()
	require.NoError(t, err)
	require.NoError(t, j.Record(r.Context(), journal.Entry{
		OperationID: uuid.NewString(),
		Action:      journal.ActionWrite,
		OrgID:       "sys",
		Key:         "k",
	}))

	require.NoError(t, r.Close())
	assert.Error(t, r.Context().Err())
}
