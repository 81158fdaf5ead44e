package poller_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyforge/internal/model"
	"storyforge/internal/poller"
)

type statusFunc func(ctx context.Context, jobID string) (string, error)

func (f statusFunc) JobOutputs(ctx context.Context, jobID string) (string, error) { return f(ctx, jobID) }

func emptyStatus() statusFunc {
	return func(ctx context.Context, jobID string) (string, error) { return "", nil }
}

func TestAwait_StableFileAppearsLater(t *testing.T) {
	dir := t.TempDir()
	handle := "3f2c0b7e-scene"
	p := poller.New(poller.Config{
		OutputDir: dir,
		Interval:  50 * time.Millisecond,
		Timeout:   10 * time.Second,
	}, emptyStatus(), zap.NewNop())

	var writerDone atomic.Int64
	go func() {
		time.Sleep(2 * time.Second)
		f, err := os.Create(filepath.Join(dir, handle+"_00001_.png"))
		if err != nil {
			return
		}
		defer f.Close()
		// Файл растет быстрее, чем идут замеры размера.
		for i := 0; i < 40; i++ {
			_, _ = f.Write([]byte("0123456789abcdef"))
			_ = f.Sync()
			time.Sleep(20 * time.Millisecond)
		}
		writerDone.Store(time.Now().UnixNano())
	}()

	start := time.Now()
	path, err := p.Await(context.Background(), handle, "prompt-1")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Equal(t, filepath.Join(dir, handle+"_00001_.png"), path)
	require.NotZero(t, writerDone.Load(), "must not return while the file is still growing")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(40*16), info.Size())
}

func TestAwait_TimesOutNotBefore(t *testing.T) {
	timeout := 300 * time.Millisecond
	p := poller.New(poller.Config{
		OutputDir: t.TempDir(),
		Interval:  50 * time.Millisecond,
		Timeout:   timeout,
	}, emptyStatus(), zap.NewNop())

	start := time.Now()
	_, err := p.Await(context.Background(), "handle", "job-1")

	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.Contains(t, err.Error(), "handle")
	assert.Contains(t, err.Error(), "job-1")
}

func TestAwait_JobStatusChannelWins(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	status := statusFunc(func(ctx context.Context, jobID string) (string, error) {
		assert.Equal(t, "job-7", jobID)
		if calls.Add(1) < 3 {
			return "", nil
		}
		return "ComfyUI_00007_.png", nil
	})
	p := poller.New(poller.Config{OutputDir: dir, Interval: 10 * time.Millisecond, Timeout: time.Second}, status, zap.NewNop())

	path, err := p.Await(context.Background(), "handle", "job-7")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ComfyUI_00007_.png"), path)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAwait_StatusErrorFallsBackToDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc_00001_.PNG"), []byte("png-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_00001_.png"), []byte("png-bytes"), 0o644))

	status := statusFunc(func(ctx context.Context, jobID string) (string, error) {
		return "", errors.New("history endpoint returned 500")
	})
	p := poller.New(poller.Config{OutputDir: dir, Interval: 10 * time.Millisecond, Timeout: time.Second}, status, zap.NewNop())

	path, err := p.Await(context.Background(), "abc", "job-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc_00001_.PNG"), path)
}

func TestAwait_NoJobIDSkipsStatusChannel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "h1.png"), []byte("data"), 0o644))

	status := statusFunc(func(ctx context.Context, jobID string) (string, error) {
		t.Error("status channel must not be queried without a job id")
		return "", nil
	})
	p := poller.New(poller.Config{OutputDir: dir, Interval: 10 * time.Millisecond, Timeout: time.Second}, status, zap.NewNop())

	path, err := p.Await(context.Background(), "h1", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "h1.png"), path)
}

func TestAwait_Cancelled(t *testing.T) {
	p := poller.New(poller.Config{OutputDir: t.TempDir(), Interval: 20 * time.Millisecond, Timeout: time.Minute}, emptyStatus(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := p.Await(ctx, "handle", "job")
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnsureOutputDir_CreatesMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")
	p := poller.New(poller.Config{OutputDir: dir}, nil, zap.NewNop())

	require.NoError(t, p.EnsureOutputDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNew_AppliesDefaults(t *testing.T) {
	cfg := poller.New(poller.Config{OutputDir: "out"}, nil, zap.NewNop()).Config()
	assert.Equal(t, poller.DefaultInterval, cfg.Interval)
	assert.Equal(t, poller.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, poller.DefaultStabilitySamples, cfg.StabilitySamples)
	assert.Equal(t, poller.DefaultStabilityDelay, cfg.StabilityDelay)
	assert.Equal(t, ".png", cfg.Extension)
}
