package service

import (
	"time"

	"chroma-key/app/config"
	"chroma-key/app/logger"
	"chroma-key/app/model"

	"resty.dev/v3"
)

// Notifier 任务结束回调服务。
// 配置了 webhook 地址时，任务到达终态后向该地址 POST 一条通知，
// 通知是尽力而为的，失败只记录日志，不影响任务状态。
type Notifier struct {
	cfg    config.NotifyConfig
	client *resty.Client
	log    *logger.Logger
}

// taskFinishedPayload 回调请求体
type taskFinishedPayload struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	DownloadLink string `json:"downloadLink,omitempty"`
}

// NewNotifier 创建回调服务
func NewNotifier(cfg config.NotifyConfig, log *logger.Logger) *Notifier {
	client := resty.New()
	client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	return &Notifier{
		cfg:    cfg,
		client: client,
		log:    log,
	}
}

// Enabled 是否配置了回调地址
func (n *Notifier) Enabled() bool {
	return n.cfg.WebhookURL != ""
}

// TaskFinished 上报任务终态，签名与工作队列的完成回调一致
func (n *Notifier) TaskFinished(taskID string, status model.TaskStatus, downloadLink string) {
	if !n.Enabled() {
		return
	}

	resp, err := n.client.R().
		SetBody(taskFinishedPayload{
			TaskID:       taskID,
			Status:       string(status),
			DownloadLink: downloadLink,
		}).
		Post(n.cfg.WebhookURL)

	if err != nil {
		n.log.Warnf("任务回调失败: TaskID=%s, Error=%v", taskID, err)
		return
	}
	if resp.StatusCode() >= 300 {
		n.log.Warnf("任务回调被拒绝: TaskID=%s, 状态码=%d", taskID, resp.StatusCode())
		return
	}

	n.log.Infof("任务回调已发送: TaskID=%s, Status=%s", taskID, status)
}
