package registry

import (
	"errors"
	"time"

	"chroma-key/app/logger"
	"chroma-key/app/model"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("任务不存在")

// Registry 任务注册表，是任务状态的唯一权威来源。
// 网关、工作池和恢复扫描都通过它读写任务状态；
// 所有写入都是按 task_id 的单行操作，提交成功后才返回。
type Registry struct {
	db    *gorm.DB
	cache *gocache.Cache // 状态读缓存，减少轮询 /status 时的数据库压力
	log   *logger.Logger
}

// New 创建任务注册表
func New(db *gorm.DB, log *logger.Logger) *Registry {
	return &Registry{
		db:    db,
		cache: gocache.New(5*time.Minute, 10*time.Minute),
		log:   log,
	}
}

// CreateOrReset 插入一条处理中的任务记录。
// 若 task_id 已存在则覆盖回初始状态（幂等 upsert），
// 正常情况下 id 每次提交都是新生成的，不会发生冲突。
func (r *Registry) CreateOrReset(taskID string) error {
	task := &model.Task{
		TaskID:       taskID,
		Status:       model.TaskStatusProcessing,
		DownloadLink: nil,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":        model.TaskStatusProcessing,
			"download_link": nil,
			"updated_at":    time.Now(),
		}),
	}).Create(task).Error
	if err != nil {
		r.log.Errorf("创建任务记录失败: TaskID=%s, Error=%v", taskID, err)
		return err
	}

	// 缓存只放从库里读出来的行，写入后让下一次读回源
	r.cache.Delete(taskID)
	return nil
}

// SetCompleted 将任务迁移到已完成状态并记录下载地址。
// 任务不存在时只记录日志，不向调用方传播。
func (r *Registry) SetCompleted(taskID, downloadLink string) {
	r.updateStatus(taskID, model.TaskStatusCompleted, &downloadLink)
}

// SetError 将任务迁移到处理失败状态，并清空下载地址
func (r *Registry) SetError(taskID string) {
	r.updateStatus(taskID, model.TaskStatusError, nil)
}

// SetFailed 将任务标记为 failed，仅供恢复扫描对未到达终态的任务使用
func (r *Registry) SetFailed(taskID string) {
	r.updateStatus(taskID, model.TaskStatusFailed, nil)
}

// updateStatus 单行状态更新，downloadLink 为 nil 时清空下载地址
func (r *Registry) updateStatus(taskID string, status model.TaskStatus, downloadLink *string) {
	result := r.db.Model(&model.Task{}).Where("task_id = ?", taskID).Updates(map[string]interface{}{
		"status":        status,
		"download_link": downloadLink,
	})
	if result.Error != nil {
		r.log.Errorf("更新任务状态失败: TaskID=%s, Status=%s, Error=%v", taskID, status, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		r.log.Warnf("更新的任务不存在，忽略: TaskID=%s, Status=%s", taskID, status)
		return
	}

	// 失效缓存，保证轮询读到的状态与库一致
	r.cache.Delete(taskID)
	r.log.Infof("任务状态已更新: TaskID=%s, Status=%s", taskID, status)
}

// Get 按 id 查询任务，不存在时返回 ErrTaskNotFound
func (r *Registry) Get(taskID string) (*model.Task, error) {
	if cached, ok := r.cache.Get(taskID); ok {
		if task, ok := cached.(*model.Task); ok {
			return task, nil
		}
	}

	var task model.Task
	if err := r.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	r.cache.SetDefault(taskID, &task)
	return &task, nil
}

// ListByStatus 按状态查询任务列表，恢复扫描用它找出孤儿任务
func (r *Registry) ListByStatus(status model.TaskStatus) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.Where("status = ?", status).Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
