package activity

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLog_AppendsNewestFirst(t *testing.T) {
	l := NewLog(repository.NewMemoryActivityRepository(), testLogger())
	ctx := context.Background()

	require.NoError(t, l.Success(ctx, "alice", "payout sent"))
	require.NoError(t, l.Warning(ctx, "alice", "no payout address"))
	require.NoError(t, l.Error(ctx, "alice", "payout failed"))
	require.NoError(t, l.Success(ctx, "bob", "share accepted"))

	entries, err := l.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, domain.ActivityError, entries[0].Status)
	assert.Equal(t, domain.ActivityWarning, entries[1].Status)
	assert.Equal(t, domain.ActivitySuccess, entries[2].Status)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	for _, e := range entries {
		assert.Equal(t, "alice", e.UserID)
		assert.False(t, e.CreatedAt.IsZero())
	}

	limited, err := l.Recent(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
