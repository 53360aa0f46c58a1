package stamp

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image/color"
	"image/jpeg"
	"image/png"
)

// xImage is a signature image prepared for embedding as a PDF XObject.
type xImage struct {
	width      int
	height     int
	colorSpace string // DeviceRGB or DeviceGray
	filter     string // FlateDecode or DCTDecode
	data       []byte
	smask      []byte // FlateDecode gray alpha channel, nil when opaque
}

// prepareImage accepts PNG or JPEG signature images. JPEG bytes embed
// directly under DCTDecode; PNG pixels are re-encoded as flate RGB with
// the alpha channel split into a soft mask.
func prepareImage(imageBytes []byte) (*xImage, error) {
	if len(imageBytes) >= 2 && imageBytes[0] == 0xFF && imageBytes[1] == 0xD8 {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(imageBytes))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg: %w", err)
		}
		cs := "DeviceRGB"
		if cfg.ColorModel == color.GrayModel {
			cs = "DeviceGray"
		}
		return &xImage{
			width:      cfg.Width,
			height:     cfg.Height,
			colorSpace: cs,
			filter:     "DCTDecode",
			data:       imageBytes,
		}, nil
	}

	img, err := png.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			// RGBA() is alpha-premultiplied, but a /SMask applies to the
			// base color, so the samples must be straight alpha.
			px := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			rgb = append(rgb, px.R, px.G, px.B)
			alpha = append(alpha, px.A)
			if px.A != 0xFF {
				opaque = false
			}
		}
	}

	data, err := deflate(rgb)
	if err != nil {
		return nil, err
	}
	xi := &xImage{
		width:      w,
		height:     h,
		colorSpace: "DeviceRGB",
		filter:     "FlateDecode",
		data:       data,
	}
	if !opaque {
		xi.smask, err = deflate(alpha)
		if err != nil {
			return nil, err
		}
	}
	return xi, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
