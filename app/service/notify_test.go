package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chroma-key/app/config"
	"chroma-key/app/logger"
	"chroma-key/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskFinishedPostsWebhook(t *testing.T) {
	received := make(chan taskFinishedPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload taskFinishedPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewNotifier(config.NotifyConfig{
		WebhookURL:     srv.URL,
		TimeoutSeconds: 5,
	}, logger.NewNop())
	require.True(t, notifier.Enabled())

	notifier.TaskFinished("t1", model.TaskStatusCompleted, "/download/t1.webm")

	payload := <-received
	assert.Equal(t, "t1", payload.TaskID)
	assert.Equal(t, "completed", payload.Status)
	assert.Equal(t, "/download/t1.webm", payload.DownloadLink)
}

func TestNotifierDisabledWithoutURL(t *testing.T) {
	notifier := NewNotifier(config.NotifyConfig{TimeoutSeconds: 5}, logger.NewNop())
	assert.False(t, notifier.Enabled())

	// 未配置回调地址时调用应当是空操作
	notifier.TaskFinished("t1", model.TaskStatusError, "")
}
