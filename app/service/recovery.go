package service

import (
	"fmt"

	"chroma-key/app/logger"
	"chroma-key/app/model"
	"chroma-key/app/registry"
	"chroma-key/app/storage"
)

// RecoveryScanner 启动恢复扫描。
// 进程不干净地退出时，处理中的任务既可能正在流水线里，
// 也可能还没被工作池捡起，两种情况都没有安全的续跑点
// （引擎不可恢复中间进度），所以统一确定性地标记为 failed，
// 由调用方用新 id 重新提交。不会重新入队。
type RecoveryScanner struct {
	registry *registry.Registry
	store    *storage.Store
	log      *logger.Logger
}

// NewRecoveryScanner 创建恢复扫描器
func NewRecoveryScanner(reg *registry.Registry, store *storage.Store, log *logger.Logger) *RecoveryScanner {
	return &RecoveryScanner{
		registry: reg,
		store:    store,
		log:      log,
	}
}

// Scan 找出所有停留在处理中状态的任务，标记为 failed 并清理临时产物。
// 必须在工作队列开始接收作业之前同步执行完，
// 连续执行两次时第二次没有可迁移的行，是自然幂等的。
func (s *RecoveryScanner) Scan() error {
	tasks, err := s.registry.ListByStatus(model.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("查询孤儿任务失败: %w", err)
	}

	if len(tasks) == 0 {
		s.log.Info("恢复扫描完成，没有孤儿任务")
		return nil
	}

	for _, task := range tasks {
		s.log.Warnf("发现上次退出遗留的孤儿任务: TaskID=%s", task.TaskID)
		s.registry.SetFailed(task.TaskID)
		// 清理是尽力而为的，文件已经不在也没关系
		s.store.Cleanup(task.TaskID)
	}

	s.log.Infof("恢复扫描完成，共标记 %d 个孤儿任务为 failed", len(tasks))
	return nil
}
