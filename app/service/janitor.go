package service

import (
	"errors"

	"chroma-key/app/config"
	"chroma-key/app/logger"
	"chroma-key/app/registry"
	"chroma-key/app/storage"

	"github.com/robfig/cron/v3"
)

// Janitor 定期清扫临时产物。
// 正常流程里源文件和工作目录在作业结束时就被删掉，
// 但长期运行的进程仍可能因为清理失败留下残留，
// 这里定期把归属任务已到终态（或注册表里查不到）的临时文件扫掉。
// 产物目录永远不在清扫范围内。
type Janitor struct {
	registry *registry.Registry
	store    *storage.Store
	log      *logger.Logger
	cron     *cron.Cron
	spec     string
}

// NewJanitor 创建临时文件清扫服务
func NewJanitor(cfg *config.ProcessingConfig, reg *registry.Registry, store *storage.Store, log *logger.Logger) *Janitor {
	return &Janitor{
		registry: reg,
		store:    store,
		log:      log,
		cron:     cron.New(),
		spec:     cfg.JanitorCron,
	}
}

// Start 按配置的 cron 表达式启动定期清扫
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Infof("临时文件清扫已启动: %s", j.spec)
	return nil
}

// Stop 停止定期清扫
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.log.Info("临时文件清扫已停止")
}

// Sweep 执行一轮清扫
func (j *Janitor) Sweep() {
	ids, err := j.store.TempTaskIDs()
	if err != nil {
		j.log.Errorf("枚举临时产物失败: %v", err)
		return
	}

	swept := 0
	for _, id := range ids {
		task, err := j.registry.Get(id)
		if err == nil && !task.Status.IsTerminal() {
			// 任务还在处理中，临时文件有主，跳过
			continue
		}
		if err != nil && !errors.Is(err, registry.ErrTaskNotFound) {
			j.log.Errorf("查询任务失败: TaskID=%s, Error=%v", id, err)
			continue
		}

		j.store.Cleanup(id)
		swept++
	}

	if swept > 0 {
		j.log.Infof("清扫了 %d 个任务的残留临时产物", swept)
	}
}
