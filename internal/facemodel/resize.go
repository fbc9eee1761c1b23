package facemodel

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// downscale re-encodes an image as JPEG, scaling it down so neither edge
// exceeds maxEdge. Aspect ratio is preserved. Images already within bounds
// are only re-encoded, which normalizes the upload format.
func downscale(data []byte, maxEdge int) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxEdge && height <= maxEdge {
		encoded, err := encodeJPEG(img)
		if err != nil {
			return nil, "", err
		}
		return encoded, "image/jpeg", nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxEdge
		newHeight = height * maxEdge / width
	} else {
		newHeight = maxEdge
		newWidth = width * maxEdge / height
	}

	scaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)

	encoded, err := encodeJPEG(scaled)
	if err != nil {
		return nil, "", err
	}
	return encoded, "image/jpeg", nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
