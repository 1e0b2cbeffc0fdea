package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"chroma-key/app/config"
	"chroma-key/app/logger"
	"chroma-key/app/storage"
)

// FFmpegEngine 基于 ffmpeg 的抠像引擎。
// 分析阶段用 ffmpeg 抽帧到任务工作目录再统计主色，
// 转换阶段用 chromakey 滤镜输出带透明通道的 VP9 webm。
type FFmpegEngine struct {
	cfg   *config.ProcessingConfig
	store *storage.Store
	log   *logger.Logger
}

// NewFFmpeg 创建 ffmpeg 抠像引擎
func NewFFmpeg(cfg *config.ProcessingConfig, store *storage.Store, log *logger.Logger) *FFmpegEngine {
	return &FFmpegEngine{
		cfg:   cfg,
		store: store,
		log:   log,
	}
}

// Analyze 抽帧并估算背景主色
func (e *FFmpegEngine) Analyze(ctx context.Context, inputPath, taskID string) (Color, error) {
	workDir, err := e.store.EnsureWorkDir(taskID)
	if err != nil {
		return Color{}, fmt.Errorf("分析失败: %w", err)
	}

	// 按配置的帧率抽帧，帧图落在工作目录里
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=%g", e.cfg.SampleFPS),
		filepath.Join(workDir, "frame-%04d.png"),
	}
	if err := e.runFFmpeg(ctx, args); err != nil {
		return Color{}, fmt.Errorf("抽帧失败: %w", err)
	}

	key, err := dominantColorInDir(workDir)
	if err != nil {
		return Color{}, fmt.Errorf("主色分析失败: %w", err)
	}

	e.log.Infof("主色分析完成: TaskID=%s, Color=%s", taskID, key.Hex())

	// 在产物目录旁边留一张主色预览图，方便排查抠像效果问题。
	// 预览图是调试辅助，生成失败不影响任务
	previewPath := filepath.Join(e.store.OutputDir(), taskID+"-key.png")
	if err := writeKeyPreview(previewPath, key); err != nil {
		e.log.Warnf("生成主色预览图失败: TaskID=%s, Error=%v", taskID, err)
	}

	return key, nil
}

// Transform 执行抠像转换，产物为带透明通道的 webm
func (e *FFmpegEngine) Transform(ctx context.Context, inputPath, outputPath string, key Color, tolerance, blend float64) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("chromakey=%s:%g:%g,format=yuva420p", key.Hex(), tolerance, blend),
		"-c:v", "libvpx-vp9",
		"-auto-alt-ref", "0", // VP9 的 alt-ref 帧与透明通道不兼容
		outputPath,
	}
	if err := e.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("抠像转换失败: %w", err)
	}
	return nil
}

// runFFmpeg 执行一次 ffmpeg 命令，失败时把 stderr 带进错误信息
func (e *FFmpegEngine) runFFmpeg(ctx context.Context, args []string) error {
	cmdPath, err := exec.LookPath(e.cfg.FFmpegPath)
	if err != nil {
		return fmt.Errorf("找不到 ffmpeg: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg 执行失败: %w, stderr: %s", err, stderr.String())
	}
	return nil
}
