package engine

import (
	"context"
	"fmt"
)

// Color 抠像的目标颜色（视频背景的主色）
type Color struct {
	R uint8
	G uint8
	B uint8
}

// Hex 返回 ffmpeg chromakey 滤镜接受的 0xRRGGBB 形式
func (c Color) Hex() string {
	return fmt.Sprintf("0x%02X%02X%02X", c.R, c.G, c.B)
}

// Engine 处理引擎接口。
// 两个操作都是一次性的，没有可恢复的中间进度；
// 对外可见的副作用只有写产物文件和返回错误。
type Engine interface {
	// Analyze 从源视频抽样，估算出现频率最高的背景主色
	Analyze(ctx context.Context, inputPath, taskID string) (Color, error)

	// Transform 以 key 为目标色做抠像，产物写入 outputPath
	Transform(ctx context.Context, inputPath, outputPath string, key Color, tolerance, blend float64) error
}
