package progress_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyforge/internal/jobs"
	"storyforge/internal/model"
	"storyforge/internal/progress"
)

func serveJob(t *testing.T, hub *progress.Hub, job jobs.Job) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, job)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) progress.Message {
	t.Helper()
	var msg progress.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_StreamsJobEvents(t *testing.T) {
	hub := progress.NewHub(zap.NewNop())
	defer hub.Close()

	job := jobs.Job{ID: uuid.New(), Status: jobs.StatusRunning, Progress: 0}
	conn := serveJob(t, hub, job)

	snapshot := readMessage(t, conn)
	assert.Equal(t, progress.TypeSnapshot, snapshot.Type)
	assert.Equal(t, job.ID, snapshot.TaskID)
	assert.Equal(t, jobs.StatusRunning, snapshot.Status)
	require.Equal(t, 1, hub.Subscribers())

	scene := model.Scene{Index: 1, Text: "The gate opened.", ImagePath: "/out/1.png"}
	job.Progress = 50
	hub.Notify(jobs.Event{Type: jobs.EventSceneFinished, Job: job, Scene: &scene})

	msg := readMessage(t, conn)
	assert.Equal(t, jobs.EventSceneFinished, msg.Type)
	assert.Equal(t, 50, msg.Progress)
	require.NotNil(t, msg.Scene)
	assert.Equal(t, scene, *msg.Scene)

	// события чужих задач не доставляются
	hub.Notify(jobs.Event{Type: "running", Job: jobs.Job{ID: uuid.New(), Status: jobs.StatusRunning}})

	job.Status = jobs.StatusCompleted
	job.Progress = 100
	job.Result = &model.StoryResult{Title: "Gate"}
	hub.Notify(jobs.Event{Type: string(jobs.StatusCompleted), Job: job})

	final := readMessage(t, conn)
	assert.Equal(t, "completed", final.Type)
	require.NotNil(t, final.Result)
	assert.Equal(t, "Gate", final.Result.Title)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_FinishedJobSendsSnapshotAndCloses(t *testing.T) {
	hub := progress.NewHub(zap.NewNop())
	defer hub.Close()

	job := jobs.Job{ID: uuid.New(), Status: jobs.StatusFailed, Progress: 100, Error: "boom"}
	conn := serveJob(t, hub, job)

	msg := readMessage(t, conn)
	assert.Equal(t, progress.TypeSnapshot, msg.Type)
	assert.Equal(t, "boom", msg.Error)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.Equal(t, 0, hub.Subscribers())
}
