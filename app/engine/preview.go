package engine

import (
	"github.com/fogleman/gg"
)

// 预览图尺寸
const previewSize = 96

// writeKeyPreview 把识别出的主色画成一张色块 PNG，
// 用于人工确认抠像的目标色是否合理
func writeKeyPreview(path string, key Color) error {
	dc := gg.NewContext(previewSize, previewSize)
	dc.SetRGB255(int(key.R), int(key.G), int(key.B))
	dc.DrawRoundedRectangle(0, 0, previewSize, previewSize, 8)
	dc.Fill()
	return dc.SavePNG(path)
}
