package pixfmt

import (
	"image"
	"image/color"

	"github.com/teslashibe/go-blinkwatch/pkg/frame"
)

// FromImage builds a tightly packed planar 4:2:0 buffer from img.
// 4:2:0 YCbCr images are copied plane by plane; anything else is converted
// with BT.601 and each chroma sample averages its 2x2 block.
func FromImage(img image.Image) frame.Planar {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2

	p := frame.Planar{
		Y:       make([]byte, w*h),
		U:       make([]byte, cw*ch),
		V:       make([]byte, cw*ch),
		StrideY: w,
		StrideU: cw,
		StrideV: cw,
	}

	if yc, ok := img.(*image.YCbCr); ok && yc.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		for row := 0; row < h; row++ {
			off := yc.YOffset(b.Min.X, b.Min.Y+row)
			copy(p.Y[row*w:(row+1)*w], yc.Y[off:off+w])
		}
		for row := 0; row < ch; row++ {
			off := yc.COffset(b.Min.X, b.Min.Y+2*row)
			copy(p.U[row*cw:(row+1)*cw], yc.Cb[off:off+cw])
			copy(p.V[row*cw:(row+1)*cw], yc.Cr[off:off+cw])
		}
		return p
	}

	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			var sumCb, sumCr, n int
			for dy := 0; dy < 2; dy++ {
				y := 2*row + dy
				if y >= h {
					break
				}
				for dx := 0; dx < 2; dx++ {
					x := 2*col + dx
					if x >= w {
						break
					}
					r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
					yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
					p.Y[y*w+x] = yy
					sumCb += int(cb)
					sumCr += int(cr)
					n++
				}
			}
			p.U[row*cw+col] = uint8((sumCb + n/2) / n)
			p.V[row*cw+col] = uint8((sumCr + n/2) / n)
		}
	}
	return p
}
