package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chroma-key/app/logger"
)

const (
	uploadsDirName = "uploads"
	outputDirName  = "output"
	workDirPrefix  = "frames-"
)

// Store 产物存储，管理处理根目录下的三类文件：
//
//	uploads/<taskId>.<ext>  上传的源文件，处理结束后删除
//	output/<taskId>.webm    处理产物，长期保留供下载
//	frames-<taskId>/        临时工作目录（抽帧等中间数据），随源文件一起删除
type Store struct {
	root string
	log  *logger.Logger
}

// New 创建产物存储并确保目录结构存在
func New(root string, log *logger.Logger) (*Store, error) {
	s := &Store{root: root, log: log}
	for _, dir := range []string{s.UploadsDir(), s.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root 返回处理根目录
func (s *Store) Root() string {
	return s.root
}

// UploadsDir 返回上传目录
func (s *Store) UploadsDir() string {
	return filepath.Join(s.root, uploadsDirName)
}

// OutputDir 返回产物目录
func (s *Store) OutputDir() string {
	return filepath.Join(s.root, outputDirName)
}

// InputPath 返回任务源文件路径
func (s *Store) InputPath(taskID, ext string) string {
	return filepath.Join(s.UploadsDir(), taskID+ext)
}

// OutputPath 返回任务产物路径，产物统一为带透明通道的 webm
func (s *Store) OutputPath(taskID string) string {
	return filepath.Join(s.OutputDir(), taskID+".webm")
}

// OutputFilePath 按文件名返回产物路径，文件名会被裁剪为基础名防止路径穿越
func (s *Store) OutputFilePath(fileName string) string {
	return filepath.Join(s.OutputDir(), filepath.Base(fileName))
}

// WorkDir 返回任务的临时工作目录
func (s *Store) WorkDir(taskID string) string {
	return filepath.Join(s.root, workDirPrefix+taskID)
}

// EnsureWorkDir 创建并返回任务的临时工作目录
func (s *Store) EnsureWorkDir(taskID string) (string, error) {
	dir := s.WorkDir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建工作目录失败: %w", err)
	}
	return dir, nil
}

// SaveUpload 把上传内容写入 uploads/<taskId><ext>，返回写入的路径
func (s *Store) SaveUpload(taskID, ext string, src io.Reader) (string, error) {
	path := s.InputPath(taskID, ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建上传文件失败: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		// 写一半的文件没有意义，直接删掉
		os.Remove(path)
		return "", fmt.Errorf("写入上传文件失败: %w", err)
	}
	return path, nil
}

// Cleanup 删除任务的源文件和工作目录，产物不受影响。
// 删除是幂等的，文件不存在不算错误；失败只记录日志，不向上传播。
func (s *Store) Cleanup(taskID string) {
	// 源文件扩展名由上传文件决定，按 taskId 前缀匹配删除
	matches, err := filepath.Glob(filepath.Join(s.UploadsDir(), taskID+".*"))
	if err == nil {
		for _, path := range matches {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.log.Warnf("删除源文件失败: %s, Error=%v", path, err)
			}
		}
	}

	if err := os.RemoveAll(s.WorkDir(taskID)); err != nil {
		s.log.Warnf("删除工作目录失败: TaskID=%s, Error=%v", taskID, err)
	}
}

// TempTaskIDs 返回当前持有临时产物（源文件或工作目录）的任务 id 集合，
// 供定期清扫找出没有归属的残留文件
func (s *Store) TempTaskIDs() ([]string, error) {
	seen := make(map[string]struct{})

	uploads, err := os.ReadDir(s.UploadsDir())
	if err != nil {
		return nil, err
	}
	for _, entry := range uploads {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if id := strings.TrimSuffix(name, filepath.Ext(name)); id != "" {
			seen[id] = struct{}{}
		}
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), workDirPrefix) {
			if id := strings.TrimPrefix(entry.Name(), workDirPrefix); id != "" {
				seen[id] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}
