package display

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/logging"
	"github.com/baselight/baselight/internal/profile"
)

const (
	thumbMaxSize = 400
	thumbQuality = 80
)

// renderPayload produces the reference's render payload: a bounded JPEG
// thumbnail with EXIF orientation applied. Bytes that do not decode as an
// image are passed through unchanged — the store accepts whatever the user
// selected, so rendering has to cope.
func renderPayload(a profile.Asset) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(a.Content))
	if err != nil {
		logging.Debug("asset not decodable as image, serving raw bytes",
			zap.String("asset", a.Name),
			zap.Error(err))
		return a.Content, a.MIMEType
	}

	img = applyOrientation(img, orientationOf(a.Content))
	thumb := imaging.Fit(img, thumbMaxSize, thumbMaxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbQuality}); err != nil {
		logging.Error("thumbnail encode failed, serving raw bytes",
			zap.String("asset", a.Name),
			zap.Error(err))
		return a.Content, a.MIMEType
	}
	return buf.Bytes(), "image/jpeg"
}

// orientationOf reads the EXIF orientation tag, defaulting to 1 (upright)
// when absent or unreadable.
func orientationOf(b []byte) int {
	x, err := exif.Decode(bytes.NewReader(b))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation transforms an image according to its EXIF orientation.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
