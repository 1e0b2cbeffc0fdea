package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chroma-key/app/config"
	"chroma-key/app/engine"
	"chroma-key/app/logger"
	"chroma-key/app/model"
	"chroma-key/app/registry"
	"chroma-key/app/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeEngine 测试用引擎，记录调用顺序，可配置失败或阻塞
type fakeEngine struct {
	mu          sync.Mutex
	analyzed    []string
	failAnalyze bool
	block       chan struct{}       // 非 nil 时 Analyze 会阻塞到通道关闭
	analyzeHook func(taskID string) // Analyze 入口回调
}

func (f *fakeEngine) Analyze(ctx context.Context, inputPath, taskID string) (engine.Color, error) {
	f.mu.Lock()
	f.analyzed = append(f.analyzed, taskID)
	hook := f.analyzeHook
	f.mu.Unlock()

	if hook != nil {
		hook(taskID)
	}
	if f.block != nil {
		<-f.block
	}
	if f.failAnalyze {
		return engine.Color{}, fmt.Errorf("坏掉的输入")
	}
	return engine.Color{G: 255}, nil
}

func (f *fakeEngine) Transform(ctx context.Context, inputPath, outputPath string, key engine.Color, tolerance, blend float64) error {
	return os.WriteFile(outputPath, []byte("webm"), 0644)
}

func (f *fakeEngine) analyzeOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.analyzed...)
}

type fixture struct {
	reg   *registry.Registry
	store *storage.Store
	queue *Queue
	eng   *fakeEngine
}

func newFixture(t *testing.T, maxConcurrent int, eng *fakeEngine) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Task{}))
	reg := registry.New(db, logger.NewNop())

	store, err := storage.New(t.TempDir(), logger.NewNop())
	require.NoError(t, err)

	cfg := &config.ProcessingConfig{
		MaxConcurrent: maxConcurrent,
		Tolerance:     0.1,
		Blend:         0.05,
	}
	q := New(cfg, reg, store, eng, logger.NewNop(), nil)
	t.Cleanup(q.Stop)

	return &fixture{reg: reg, store: store, queue: q, eng: eng}
}

// submit 模拟网关：写入源文件、建表记录、入队
func (f *fixture) submit(t *testing.T, taskID string) Job {
	t.Helper()

	inputPath, err := f.store.SaveUpload(taskID, ".mp4", strings.NewReader("video"))
	require.NoError(t, err)
	_, err = f.store.EnsureWorkDir(taskID)
	require.NoError(t, err)
	require.NoError(t, f.reg.CreateOrReset(taskID))

	job := Job{
		TaskID:     taskID,
		InputPath:  inputPath,
		OutputPath: f.store.OutputPath(taskID),
	}
	f.queue.Enqueue(job)
	return job
}

// waitTerminal 等任务到达终态
func (f *fixture) waitTerminal(t *testing.T, taskID string) *model.Task {
	t.Helper()

	var task *model.Task
	require.Eventually(t, func() bool {
		got, err := f.reg.Get(taskID)
		if err != nil || !got.Status.IsTerminal() {
			return false
		}
		task = got
		return true
	}, 3*time.Second, 10*time.Millisecond)
	return task
}

func TestTryDequeueFIFO(t *testing.T) {
	f := newFixture(t, 1, &fakeEngine{})

	f.queue.Enqueue(Job{TaskID: "a"})
	f.queue.Enqueue(Job{TaskID: "b"})

	job, ok := f.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", job.TaskID)

	job, ok = f.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b", job.TaskID)

	_, ok = f.queue.TryDequeue()
	assert.False(t, ok)
}

func TestSuccessfulRun(t *testing.T) {
	eng := &fakeEngine{}
	f := newFixture(t, 1, eng)
	f.queue.Start()

	job := f.submit(t, "t1")
	task := f.waitTerminal(t, "t1")

	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.DownloadLink)
	assert.Equal(t, "/download/t1.webm", *task.DownloadLink)

	// 产物存在，源文件和工作目录已清理
	assert.FileExists(t, job.OutputPath)
	assert.NoFileExists(t, job.InputPath)
	assert.NoDirExists(t, f.store.WorkDir("t1"))
}

func TestFailedRun(t *testing.T) {
	eng := &fakeEngine{failAnalyze: true}
	f := newFixture(t, 1, eng)
	f.queue.Start()

	job := f.submit(t, "t1")
	task := f.waitTerminal(t, "t1")

	// 引擎错误不外抛，只落在状态里
	assert.Equal(t, model.TaskStatusError, task.Status)
	assert.Nil(t, task.DownloadLink)
	assert.NoFileExists(t, job.InputPath)
	assert.NoDirExists(t, f.store.WorkDir("t1"))
}

func TestFIFODispatchOrder(t *testing.T) {
	eng := &fakeEngine{}
	f := newFixture(t, 1, eng)

	// 后一个作业开始处理时，前一个必须已经提交了终态
	eng.analyzeHook = func(taskID string) {
		if taskID == "t2" {
			task, err := f.reg.Get("t1")
			require.NoError(t, err)
			assert.True(t, task.Status.IsTerminal())
		}
	}

	f.queue.Start()
	f.submit(t, "t1")
	f.submit(t, "t2")
	f.submit(t, "t3")

	f.waitTerminal(t, "t1")
	f.waitTerminal(t, "t2")
	f.waitTerminal(t, "t3")

	assert.Equal(t, []string{"t1", "t2", "t3"}, eng.analyzeOrder())
}

func TestConcurrencyBound(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{})}
	f := newFixture(t, 1, eng)
	f.queue.Start()

	f.submit(t, "t1")
	f.submit(t, "t2")
	f.submit(t, "t3")

	// 第一个作业占住唯一的并发额度，其余排队
	require.Eventually(t, func() bool {
		return f.queue.InFlight() == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.queue.InFlight())
	assert.Equal(t, 2, f.queue.Pending())

	close(eng.block)

	f.waitTerminal(t, "t1")
	f.waitTerminal(t, "t2")
	f.waitTerminal(t, "t3")
	assert.Equal(t, 0, f.queue.InFlight())
}

func TestFinishedCallback(t *testing.T) {
	eng := &fakeEngine{}

	var mu sync.Mutex
	type notice struct {
		taskID string
		status model.TaskStatus
		link   string
	}
	var notices []notice

	f := newFixture(t, 1, eng)
	f.queue.onFinished = func(taskID string, status model.TaskStatus, downloadLink string) {
		mu.Lock()
		notices = append(notices, notice{taskID, status, downloadLink})
		mu.Unlock()
	}
	f.queue.Start()

	f.submit(t, "t1")
	f.waitTerminal(t, "t1")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notices) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "t1", notices[0].taskID)
	assert.Equal(t, model.TaskStatusCompleted, notices[0].status)
	assert.Equal(t, "/download/t1.webm", notices[0].link)
}
