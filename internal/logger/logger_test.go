package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function restoring the original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		defer SetLevel("INFO")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("WarnLevelHidesDebugAndInfo", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")
		defer SetLevel("INFO")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("InvalidLevelIsIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetLevel("bogus")

		Info("still info")
		assert.Contains(t, buf.String(), "still info")
	})
}

func TestStructuredFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	Info("task claimed", KeyTaskID, "t-123", KeyPriority, "high")

	out := buf.String()
	assert.Contains(t, out, "task_id=t-123")
	assert.Contains(t, out, "priority=high")
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	defer SetFormat("text")

	Info("hydration started", KeyDriveID, "d-1", KeyPath, "docs/a.txt")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))

	assert.Equal(t, "hydration started", record["msg"])
	assert.Equal(t, "d-1", record["drive_id"])
	assert.Equal(t, "docs/a.txt", record["path"])
}

func TestContextFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	lc := NewLogContext("d-42").WithTask("t-9").WithPath("photos/cat.jpg")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "upload complete")

	out := buf.String()
	assert.Contains(t, out, "drive_id=d-42")
	assert.Contains(t, out, "task_id=t-9")
	assert.Contains(t, out, "path=photos/cat.jpg")
}

func TestContextFieldsAbsent(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	InfoCtx(context.Background(), "no context bound")
	assert.Contains(t, buf.String(), "no context bound")
}

func TestConcurrentLogging(t *testing.T) {
	_, cleanup := captureOutput()
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("concurrent", KeyWorkerID, n, KeyChunk, j)
			}
		}(i)
	}
	wg.Wait()
}

func TestErrAttrNil(t *testing.T) {
	attr := Err(nil)
	assert.True(t, attr.Equal(Err(nil)))
}
