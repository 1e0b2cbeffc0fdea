package queue

import (
	"context"
	"path/filepath"
	"sync"

	"chroma-key/app/config"
	"chroma-key/app/engine"
	"chroma-key/app/logger"
	"chroma-key/app/model"
	"chroma-key/app/registry"
	"chroma-key/app/storage"
)

// Job 待处理的抠像作业，只存在于内存中。
// 进程异常退出时作业不会被重放，对应任务由恢复扫描标记为 failed。
type Job struct {
	TaskID     string
	InputPath  string
	OutputPath string
}

// FinishedCallback 任务到达终态后的回调，downloadLink 仅在完成时非空
type FinishedCallback func(taskID string, status model.TaskStatus, downloadLink string)

// Queue 工作队列与工作池。
// 待处理作业和在途计数由同一把锁保护，入队和完成都会唤醒派发循环，
// 派发循环按 FIFO 顺序取作业，在途数不超过 MaxConcurrent。
type Queue struct {
	cfg      *config.ProcessingConfig
	registry *registry.Registry
	store    *storage.Store
	engine   engine.Engine
	log      *logger.Logger

	mu       sync.Mutex
	jobs     []Job
	inflight int

	notify  chan struct{} // 唤醒派发循环的信号，容量 1 足够
	stopCh  chan struct{}
	loopWg  sync.WaitGroup // 派发循环
	jobWg   sync.WaitGroup // 在途作业
	runMu   sync.Mutex     // 保护 running
	running bool

	onFinished FinishedCallback
}

// New 创建工作队列
func New(cfg *config.ProcessingConfig, reg *registry.Registry, store *storage.Store, eng engine.Engine, log *logger.Logger, onFinished FinishedCallback) *Queue {
	return &Queue{
		cfg:        cfg,
		registry:   reg,
		store:      store,
		engine:     eng,
		log:        log,
		notify:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		onFinished: onFinished,
	}
}

// Enqueue 把作业追加到队尾，从不阻塞，可与派发并发调用
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	pending := len(q.jobs)
	q.mu.Unlock()

	q.log.Infof("作业已入队: TaskID=%s, 排队中=%d", job.TaskID, pending)
	q.signal()
}

// TryDequeue 取出队头作业，队列为空时第二个返回值为 false，从不阻塞
func (q *Queue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// Pending 返回排队中的作业数
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// InFlight 返回在途作业数
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// Start 启动派发循环
func (q *Queue) Start() {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.running {
		return
	}
	q.running = true

	q.loopWg.Add(1)
	go q.dispatchLoop()

	q.log.Infof("工作队列已启动，最大并发数: %d", q.cfg.MaxConcurrent)
}

// Stop 停止派发循环并等待在途作业结束
func (q *Queue) Stop() {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if !q.running {
		return
	}
	q.running = false

	close(q.stopCh)
	q.loopWg.Wait()
	q.jobWg.Wait()

	q.log.Info("工作队列已停止")
}

// dispatchLoop 派发循环。用循环等信号的方式排空队列，
// 避免完成后递归触发派发导致积压时调用栈无限加深
func (q *Queue) dispatchLoop() {
	defer q.loopWg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.notify:
			q.drain()
		}
	}
}

// drain 在并发额度内按 FIFO 顺序派发作业
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.inflight >= q.cfg.MaxConcurrent || len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.inflight++
		q.mu.Unlock()

		q.jobWg.Add(1)
		go q.run(job)
	}
}

// signal 唤醒派发循环，信号已挂起时无需重复
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// run 执行单个作业：分析主色 → 抠像转换 → 清理临时产物 → 落库。
// 引擎错误不向外抛，只体现在任务状态里，调用方通过轮询 /status 观察
func (q *Queue) run(job Job) {
	defer func() {
		q.mu.Lock()
		q.inflight--
		q.mu.Unlock()

		// 释放了并发额度，可能还有排队的作业
		q.signal()
		q.jobWg.Done()
	}()

	q.log.Infof("开始处理作业: TaskID=%s, Input=%s", job.TaskID, job.InputPath)

	// 流水线没有超时限制，引擎调用会一直占用这个并发额度直到结束
	ctx := context.Background()

	key, err := q.engine.Analyze(ctx, job.InputPath, job.TaskID)
	if err == nil {
		err = q.engine.Transform(ctx, job.InputPath, job.OutputPath, key, q.cfg.Tolerance, q.cfg.Blend)
	}

	// 无论成败都清理源文件和工作目录，清理失败不影响状态落库
	q.store.Cleanup(job.TaskID)

	if err != nil {
		q.log.Errorf("作业处理失败: TaskID=%s, Error=%v", job.TaskID, err)
		q.registry.SetError(job.TaskID)
		q.finished(job.TaskID, model.TaskStatusError, "")
		return
	}

	downloadLink := "/download/" + filepath.Base(job.OutputPath)
	q.registry.SetCompleted(job.TaskID, downloadLink)
	q.log.Infof("作业处理完成: TaskID=%s, Output=%s", job.TaskID, job.OutputPath)
	q.finished(job.TaskID, model.TaskStatusCompleted, downloadLink)
}

func (q *Queue) finished(taskID string, status model.TaskStatus, downloadLink string) {
	if q.onFinished != nil {
		q.onFinished(taskID, status, downloadLink)
	}
}
