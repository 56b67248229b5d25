package journal

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{
		InMemory: true,
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})),
		LogLevel: slog.LevelWarn,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	op := uuid.NewString()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{
		OperationID: op, Step: "system-record", Action: ActionWrite,
		OrgID: "sys", Key: "cs_endpointConfig_ep1", PreviousValue: "old", Existed: true,
		Time: base,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		OperationID: op, Step: "tenant-record", Action: ActionWrite,
		OrgID: "org-a", Key: "cs_tenantConfig_ep1",
		Time: base.Add(time.Second),
	}))

	entries, err := j.List(ctx, op, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "tenant-record", entries[0].Step)
	assert.Equal(t, 2, entries[0].Seq)
	assert.False(t, entries[0].Existed)

	assert.Equal(t, "system-record", entries[1].Step)
	assert.Equal(t, 1, entries[1].Seq)
	assert.Equal(t, "old", entries[1].PreviousValue)
	assert.True(t, entries[1].Existed)
	assert.True(t, base.Equal(entries[1].Time))
}

func TestListFiltersAndLimits(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	first, second := uuid.NewString(), uuid.NewString()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, j.Record(ctx, Entry{OperationID: first, Action: ActionWrite, OrgID: "sys", Key: "k", Time: base.Add(time.Duration(i) * time.Second)}))
	}
	require.NoError(t, j.Record(ctx, Entry{OperationID: second, Action: ActionDelete, OrgID: "org-a", Key: "k", Time: base.Add(time.Minute)}))

	all, err := j.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, second, all[0].OperationID)

	limited, err := j.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	onlyFirst, err := j.List(ctx, first, 0)
	require.NoError(t, err)
	assert.Len(t, onlyFirst, 3)
	for _, e := range onlyFirst {
		assert.Equal(t, first, e.OperationID)
	}

	none, err := j.List(ctx, uuid.NewString(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordAssignsTime(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	op := uuid.NewString()
	require.NoError(t, j.Record(ctx, Entry{OperationID: op, Action: ActionDelete, OrgID: "org-a", Key: "k"}))

	entries, err := j.List(ctx, op, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Time.IsZero())
}

func TestRecordRejectsBadOperationID(t *testing.T) {
	j := openTestJournal(t)
	err := j.Record(context.Background(), Entry{OperationID: "not-a-uuid", Action: ActionWrite})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOperationID))
}

func TestClosedJournal(t *testing.T) {
	j := openTestJournal(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	err := j.Record(context.Background(), Entry{OperationID: uuid.NewString(), Action: ActionWrite})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = j.List(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	op := uuid.NewString()

	j, err := Open(Config{Directory: dir, Logger: slog.Default(), LogLevel: slog.LevelError})
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, Entry{OperationID: op, Action: ActionWrite, OrgID: "sys", Key: "k"}))
	require.NoError(t, j.Close())

	j, err = Open(Config{Directory: dir, Logger: slog.Default(), LogLevel: slog.LevelError})
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.List(ctx, op, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenRequiresDirectory(t *testing.T) {
	_, err := Open(Config{Logger: slog.Default()})
	require.Error(t, err)
}

func TestStoreLog(t *testing.T) {
	var buf bytes.Buffer
	l := &storeLog{out: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	l.Infof("compaction %d done\n", 3)
	l.Debugf("dropped below threshold")

	out := buf.String()
	assert.Contains(t, out, `msg="compaction 3 done"`)
	assert.Contains(t, out, "source=badger")
	assert.NotContains(t, out, "dropped below threshold")
}

func TestStoreLevel(t *testing.T) {
	assert.Equal(t, badger.DEBUG, storeLevel(slog.LevelDebug))
	assert.Equal(t, badger.INFO, storeLevel(slog.LevelInfo))
	assert.Equal(t, badger.WARNING, storeLevel(slog.LevelWarn))
	assert.Equal(t, badger.ERROR, storeLevel(slog.LevelError+4))
}
