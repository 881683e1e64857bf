package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerStageFlow(t *testing.T) {
	tr := NewTracker("task-1", IngestStages())

	tr.StartStage(StageClassify, 1)
	tr.Update(1, "")
	tr.StartStage(StageHash, 1)

	snap := tr.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, StageHash, snap.Stage)
	// Classify completed implicitly when hash started.
	assert.Equal(t, StateCompleted, snap.Stages[0].State)
	assert.InDelta(t, 0.05, snap.Progress, 1e-9)
}

func TestTrackerEncodeProgress(t *testing.T) {
	tr := NewTracker("task-1", IngestStages())
	tr.StartStage(StageClassify, 1)
	tr.StartStage(StageHash, 1)
	tr.StartStage(StageDecompose, 1)
	tr.StartStage(StageEncode, 10)
	tr.Update(5, "embedding visual_frame")

	snap := tr.Snapshot()
	// classify+hash+decompose weights plus half of encode.
	assert.InDelta(t, 0.05+0.10+0.25+0.25, snap.Progress, 1e-9)
	assert.Equal(t, "embedding visual_frame", snap.Stages[3].Message)
}

func TestTrackerComplete(t *testing.T) {
	tr := NewTracker("task-1", IngestStages())
	tr.StartStage(StagePersist, 1)
	tr.Complete()

	snap := tr.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.InDelta(t, 1.0, snap.Progress, 1e-9)
}

func TestTrackerFailAndCancel(t *testing.T) {
	tr := NewTracker("task-1", IngestStages())
	tr.StartStage(StageEncode, 4)
	tr.Fail(errors.New("engine down"))

	snap := tr.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "engine down", snap.Error)
	assert.Equal(t, StateError, snap.Stages[3].State)

	tr2 := NewTracker("task-2", IngestStages())
	tr2.StartStage(StageDecompose, 1)
	tr2.Cancel()
	assert.Equal(t, StateCancelled, tr2.Snapshot().State)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	tr := reg.Track("task-1", IngestStages())
	tr.StartStage(StageClassify, 1)

	snap, ok := reg.Get("task-1")
	require.True(t, ok)
	assert.Equal(t, "task-1", snap.TaskID)

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	reg.Evict("task-1")
	_, ok = reg.Get("task-1")
	assert.False(t, ok)
}

func TestRegistrySweep(t *testing.T) {
	reg := NewRegistry()
	done := reg.Track("done", IngestStages())
	done.Complete()
	live := reg.Track("live", IngestStages())
	live.StartStage(StageClassify, 1)

	removed := reg.Sweep(time.Now().Add(time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := reg.Get("done")
	assert.False(t, ok)
	_, ok = reg.Get("live")
	assert.True(t, ok)
}
