package support

import (
	"context"
	"testing"
	"time"
)

func TestRunWithLeaderWithoutRedisRunsOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	calls := 0
	err := RunWithLeader(ctx, nil, "privacyspace:leader:test", time.Second, func(runCtx context.Context) {
		calls++
		if runCtx.Err() != nil {
			t.Errorf("run context already done: %v", runCtx.Err())
		}
	})
	if err != nil {
		t.Fatalf("RunWithLeader returned %v", err)
	}
	if calls != 1 {
		t.Fatalf("run called %d times, want 1", calls)
	}
}

func TestRunWithLeaderRejectsNilRun(t *testing.T) {
	if err := RunWithLeader(context.Background(), nil, "key", time.Second, nil); err == nil {
		t.Fatal("expected error for nil run function")
	}
}

func TestGenerateLeaderIDUnique(t *testing.T) {
	if generateLeaderID() == generateLeaderID() {
		t.Fatal("leader ids should be unique")
	}
}
