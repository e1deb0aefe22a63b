// SPDX-License-Identifier: MIT

package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/clipper-app/clipper/internal/bus"
)

// decodeToImage turns a raw capture buffer into a decodable image.Image,
// dispatching on the negotiated pixel format. YUYV and NV12 are decoded by
// hand since the standard library only understands JPEG natively.
func decodeToImage(raw []byte, format bus.PixelFormat, width, height int) (image.Image, error) {
	switch format {
	case bus.PixelFormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("camera: jpeg decode: %w", err)
		}
		return img, nil
	case bus.PixelFormatYUYV:
		return decodeYUYV(raw, width, height)
	case bus.PixelFormatNV12:
		return decodeNV12(raw, width, height)
	case bus.PixelFormatGray:
		return decodeGray(raw, width, height)
	case bus.PixelFormatRGB24:
		return decodeRGB24(raw, width, height)
	default:
		return nil, fmt.Errorf("camera: unsupported pixel format %q", format)
	}
}

func decodeYUYV(raw []byte, width, height int) (image.Image, error) {
	if len(raw) < width*height*2 {
		return nil, fmt.Errorf("camera: short YUYV buffer: got %d want %d", len(raw), width*height*2)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	stride := width * 2
	for y := 0; y < height; y++ {
		row := raw[y*stride : y*stride+stride]
		for x := 0; x+3 < stride; x += 4 {
			y0, u, y1, v := row[x], row[x+1], row[x+2], row[x+3]
			img.Set(width*0+x/2, y, yuvToRGBA(y0, u, v))
			img.Set(width*0+x/2+1, y, yuvToRGBA(y1, u, v))
		}
	}
	return img, nil
}

func yuvToRGBA(y, u, v byte) color.RGBA {
	c := color.YCbCr{Y: y, Cb: u, Cr: v}
	r, g, b, _ := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
}

func decodeNV12(raw []byte, width, height int) (image.Image, error) {
	ySize := width * height
	if len(raw) < ySize+ySize/2 {
		return nil, fmt.Errorf("camera: short NV12 buffer: got %d want %d", len(raw), ySize+ySize/2)
	}
	yPlane := raw[:ySize]
	uvPlane := raw[ySize:]

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		uvRow := (y / 2) * width
		for x := 0; x < width; x++ {
			yy := yPlane[y*width+x]
			uvIdx := uvRow + (x/2)*2
			u, v := uvPlane[uvIdx], uvPlane[uvIdx+1]
			img.Set(x, y, yuvToRGBA(yy, u, v))
		}
	}
	return img, nil
}

func decodeGray(raw []byte, width, height int) (image.Image, error) {
	if len(raw) < width*height {
		return nil, fmt.Errorf("camera: short GRAY buffer: got %d want %d", len(raw), width*height)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, raw[:width*height])
	return img, nil
}

func decodeRGB24(raw []byte, width, height int) (image.Image, error) {
	if len(raw) < width*height*3 {
		return nil, fmt.Errorf("camera: short RGB24 buffer: got %d want %d", len(raw), width*height*3)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		r, g, b := raw[i*3], raw[i*3+1], raw[i*3+2]
		img.Set(i%width, i/width, color.RGBA{R: r, G: g, B: b, A: 0xff})
	}
	return img, nil
}

// downscalePreview nearest-neighbor downscales img to the fixed preview
// dimensions and packs the result as interleaved RGB24 (no alpha), the form
// the preview consumer expects.
func downscalePreview(img image.Image) []byte {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	dstW, dstH := bus.PreviewWidth, bus.PreviewHeight

	out := make([]byte, dstW*dstH*3)
	if srcW == 0 || srcH == 0 {
		return out
	}

	for y := 0; y < dstH; y++ {
		srcY := bounds.Min.Y + y*srcH/dstH
		for x := 0; x < dstW; x++ {
			srcX := bounds.Min.X + x*srcW/dstW
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			i := (y*dstW + x) * 3
			out[i] = uint8(r >> 8)
			out[i+1] = uint8(g >> 8)
			out[i+2] = uint8(b >> 8)
		}
	}
	return out
}
