package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"chroma-key/app/config"
	"chroma-key/app/logger"
	"chroma-key/app/queue"
	"chroma-key/app/registry"
	"chroma-key/app/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// uploadField 上传表单里的文件字段名
const uploadField = "video"

// defaultExt 文件名里没有扩展名时按 mp4 处理
const defaultExt = ".mp4"

// JobQueue 提交网关依赖的队列操作
type JobQueue interface {
	Enqueue(job queue.Job)
}

// TaskHandler 任务相关的 HTTP 处理器
type TaskHandler struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *storage.Store
	queue    JobQueue
	log      *logger.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(cfg *config.Config, reg *registry.Registry, store *storage.Store, q JobQueue, log *logger.Logger) *TaskHandler {
	return &TaskHandler{
		cfg:      cfg,
		registry: reg,
		store:    store,
		queue:    q,
		log:      log,
	}
}

// Upload 接收上传的视频，创建任务记录并入队。
// 任务记录落库成功后才返回 200，保证返回的 taskId 立刻可查
func (h *TaskHandler) Upload(c *gin.Context) {
	maxSize := h.cfg.Server.MaxUploadSize()

	// 请求头声明的大小超限时直接拒绝，不读请求体
	if c.Request.ContentLength > maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "上传文件过大"})
		return
	}

	file, err := c.FormFile(uploadField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 video 字段"})
		return
	}
	if file.Size > maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "上传文件过大"})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.log.Errorf("读取上传内容失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存上传文件失败"})
		return
	}
	defer src.Close()

	taskID := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = defaultExt
	}

	inputPath, err := h.store.SaveUpload(taskID, ext, src)
	if err != nil {
		h.log.Errorf("保存上传文件失败: TaskID=%s, Error=%v", taskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存上传文件失败"})
		return
	}

	if err := h.registry.CreateOrReset(taskID); err != nil {
		h.store.Cleanup(taskID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败"})
		return
	}

	h.queue.Enqueue(queue.Job{
		TaskID:     taskID,
		InputPath:  inputPath,
		OutputPath: h.store.OutputPath(taskID),
	})

	h.log.Infof("上传任务已受理: TaskID=%s, File=%s, Size=%d", taskID, file.Filename, file.Size)
	c.JSON(http.StatusOK, gin.H{"taskId": taskID})
}

// Status 查询任务状态，downloadLink 仅在完成时返回
func (h *TaskHandler) Status(c *gin.Context) {
	taskID := c.Param("taskId")

	task, err := h.registry.Get(taskID)
	if err != nil {
		if errors.Is(err, registry.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
			return
		}
		h.log.Errorf("查询任务状态失败: TaskID=%s, Error=%v", taskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询任务状态失败"})
		return
	}

	resp := gin.H{"status": task.Status}
	if task.DownloadLink != nil {
		resp["downloadLink"] = *task.DownloadLink
	}
	c.JSON(http.StatusOK, resp)
}

// Download 下载处理产物，文件名会被裁剪为基础名防止路径穿越
func (h *TaskHandler) Download(c *gin.Context) {
	fileName := c.Param("fileName")
	path := h.store.OutputFilePath(fileName)

	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
		return
	}

	c.File(path)
}

// Test 存活探针
func (h *TaskHandler) Test(c *gin.Context) {
	c.String(http.StatusOK, "chroma-key server is running")
}
