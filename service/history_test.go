package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screencopy/config"
	"screencopy/models"
)

func TestHistoryRecordAndList(t *testing.T) {
	db, err := config.InitDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()
	h := NewHistoryService(db)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Record(ctx, models.SessionRecord{
			ID:        fmt.Sprintf("s%d", i),
			Command:   CommandQuickInfo,
			Outcome:   models.OutcomeSuccess,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	ended := base.Add(10 * time.Second)
	require.NoError(t, h.Record(ctx, models.SessionRecord{
		ID:        "s0",
		Command:   CommandQuickInfo,
		Serial:    "SER1",
		Outcome:   models.OutcomeFailed,
		ErrorKind: "authentication",
		StartedAt: base,
		EndedAt:   &ended,
	}))

	records, err := h.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s2", records[0].ID)
	assert.Equal(t, "s1", records[1].ID)
	assert.Nil(t, records[0].EndedAt)

	all, err := h.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	last := all[2]
	assert.Equal(t, "s0", last.ID)
	assert.Equal(t, "SER1", last.Serial)
	assert.Equal(t, models.OutcomeFailed, last.Outcome)
	require.NotNil(t, last.EndedAt)
	assert.True(t, ended.Equal(*last.EndedAt))
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", newError(KindDeployment, "push server", "SER1", cause))

	assert.Equal(t, KindDeployment, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "wrapped: deployment: push server [SER1]: boom", err.Error())
	assert.Equal(t, KindUnknown, KindOf(cause))

	messages := map[Kind]string{
		KindDiscovery:      "Failed to retrieve devices.",
		KindAuthentication: "Failed to connect ADB device.",
		KindDeployment:     "Failed to push scrcpy server.",
		KindLaunchFailure:  "Failed to start scrcpy server.",
		KindStream:         "Video stream ended unexpectedly.",
		KindCapture:        "Failed to take screenshot.",
		KindUnknown:        "Unexpected error.",
	}
	for kind, want := range messages {
		assert.Equal(t, want, UserMessage(kind), kind.String())
	}
}
