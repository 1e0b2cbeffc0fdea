package service

import (
	"path/filepath"
	"strings"
	"testing"

	"chroma-key/app/logger"
	"chroma-key/app/model"
	"chroma-key/app/registry"
	"chroma-key/app/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDeps(t *testing.T) (*registry.Registry, *storage.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Task{}))

	store, err := storage.New(t.TempDir(), logger.NewNop())
	require.NoError(t, err)

	return registry.New(db, logger.NewNop()), store
}

func TestScanFailsOrphanedTasks(t *testing.T) {
	reg, store := newTestDeps(t)
	scanner := NewRecoveryScanner(reg, store, logger.NewNop())

	// t1 模拟崩溃时停留在处理中的任务，带着临时产物
	require.NoError(t, reg.CreateOrReset("t1"))
	inputPath, err := store.SaveUpload("t1", ".mp4", strings.NewReader("video"))
	require.NoError(t, err)
	workDir, err := store.EnsureWorkDir("t1")
	require.NoError(t, err)

	// t2 已经完成，不应被动到
	require.NoError(t, reg.CreateOrReset("t2"))
	reg.SetCompleted("t2", "/download/t2.webm")

	require.NoError(t, scanner.Scan())

	task, err := reg.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.Nil(t, task.DownloadLink)
	assert.NoFileExists(t, inputPath)
	assert.NoDirExists(t, workDir)

	done, err := reg.Get("t2")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, done.Status)
}

func TestScanIsIdempotent(t *testing.T) {
	reg, store := newTestDeps(t)
	scanner := NewRecoveryScanner(reg, store, logger.NewNop())

	require.NoError(t, reg.CreateOrReset("t1"))
	require.NoError(t, scanner.Scan())

	// 连续两次重启之间没有新提交，第二次扫描没有可迁移的行
	require.NoError(t, scanner.Scan())

	tasks, err := reg.ListByStatus(model.TaskStatusFailed)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].TaskID)

	processing, err := reg.ListByStatus(model.TaskStatusProcessing)
	require.NoError(t, err)
	assert.Empty(t, processing)
}

func TestScanWithMissingArtifacts(t *testing.T) {
	reg, store := newTestDeps(t)
	scanner := NewRecoveryScanner(reg, store, logger.NewNop())

	// 只有注册表记录、没有任何文件的孤儿任务，清理是尽力而为的
	require.NoError(t, reg.CreateOrReset("t1"))
	require.NoError(t, scanner.Scan())

	task, err := reg.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
}
