package engine

import (
	"fmt"
	"image"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
)

// 颜色量化的桶宽度。逐像素精确统计对压缩视频的噪声太敏感，
// 把每个通道按 32 一档归并后再计数，取桶内均值作为目标色
const quantStep = 32

// sampleWidth 统计前把帧缩到的宽度，像素数量对主色估计影响不大
const sampleWidth = 128

// dominantColorInDir 统计目录下所有帧图中出现频率最高的颜色
func dominantColorInDir(dir string) (Color, error) {
	frames, err := filepath.Glob(filepath.Join(dir, "frame-*.png"))
	if err != nil {
		return Color{}, err
	}
	if len(frames) == 0 {
		return Color{}, fmt.Errorf("工作目录里没有帧图: %s", dir)
	}
	sort.Strings(frames)

	images := make([]image.Image, 0, len(frames))
	for _, path := range frames {
		img, err := imaging.Open(path)
		if err != nil {
			return Color{}, fmt.Errorf("解码帧图失败 %s: %w", filepath.Base(path), err)
		}
		images = append(images, img)
	}

	return dominantColor(images), nil
}

// dominantColor 返回所有帧中出现次数最多的量化颜色桶的均值
func dominantColor(frames []image.Image) Color {
	type bucket struct {
		count            int
		sumR, sumG, sumB int
	}
	buckets := make(map[[3]uint8]*bucket)

	for _, frame := range frames {
		// 缩小后统计，等价于对原图做均匀抽样
		small := imaging.Resize(frame, sampleWidth, 0, imaging.NearestNeighbor)
		bounds := small.Bounds()
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := small.At(x, y).RGBA()
				r8, g8, b8 := uint8(r>>8), uint8(g>>8), uint8(b>>8)

				key := [3]uint8{r8 / quantStep, g8 / quantStep, b8 / quantStep}
				bk, ok := buckets[key]
				if !ok {
					bk = &bucket{}
					buckets[key] = bk
				}
				bk.count++
				bk.sumR += int(r8)
				bk.sumG += int(g8)
				bk.sumB += int(b8)
			}
		}
	}

	var best *bucket
	for _, bk := range buckets {
		if best == nil || bk.count > best.count {
			best = bk
		}
	}
	if best == nil {
		return Color{}
	}

	return Color{
		R: uint8(best.sumR / best.count),
		G: uint8(best.sumG / best.count),
		B: uint8(best.sumB / best.count),
	}
}
