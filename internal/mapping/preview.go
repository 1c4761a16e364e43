package mapping

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/paulgrammer/surveyd/internal/storage"
)

// Preview sources, in order of preference.
const (
	SourceOrthophoto  = "orthophoto"
	SourceDataset     = "dataset"
	SourceLatestFrame = "latest_frame"
	SourcePlaceholder = "placeholder"
)

// Preview is where the result images of a job can be fetched.
type Preview struct {
	MapImage string `json:"map_image"`
	GeoImage string `json:"geo_image"`
	Source   string `json:"source"`
}

// PublishPreview copies the best available preview image of a dataset to
// the fixed preview location and picks the geotag proof image.
func PublishPreview(layout storage.Layout, date string) (Preview, error) {
	firstImage, hasImage := layout.FirstImage(date)

	var src, source string
	switch {
	case exists(layout.OrthophotoPath(date)):
		src, source = layout.OrthophotoPath(date), SourceOrthophoto
	case hasImage:
		src, source = filepath.Join(layout.ImagesDir(date), firstImage), SourceDataset
	case exists(layout.LatestGeoPath()):
		src, source = layout.LatestGeoPath(), SourceLatestFrame
	default:
		p, err := ensurePlaceholder(layout.PlaceholderPath())
		if err != nil {
			return Preview{}, fmt.Errorf("create placeholder preview: %w", err)
		}
		src, source = p, SourcePlaceholder
	}

	switch source {
	case SourceOrthophoto, SourcePlaceholder:
		if err := storage.CopyFile(src, layout.PreviewPath()); err != nil {
			return Preview{}, fmt.Errorf("copy preview: %w", err)
		}
	default:
		// camera stills are JPEG; the preview is always served as PNG
		if err := convertToPNG(src, layout.PreviewPath()); err != nil {
			p, perr := ensurePlaceholder(layout.PlaceholderPath())
			if perr != nil {
				return Preview{}, fmt.Errorf("convert preview: %w", errors.Join(err, perr))
			}
			if err := storage.CopyFile(p, layout.PreviewPath()); err != nil {
				return Preview{}, fmt.Errorf("copy preview: %w", err)
			}
			source = SourcePlaceholder
		}
	}

	geo := storage.LatestGeoURL
	if hasImage {
		geo = storage.MediaURL(date, storage.KindImages, firstImage)
	}

	return Preview{MapImage: storage.PreviewURL, GeoImage: geo, Source: source}, nil
}

func convertToPNG(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(src), err)
	}
	return storage.WriteAtomic(dst, func(w io.Writer) error {
		return png.Encode(w, img)
	})
}

func ensurePlaceholder(path string) (string, error) {
	if exists(path) {
		return path, nil
	}
	img := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = 0xC0
	}
	// thin border so an empty preview is recognisable as such
	for x := 0; x < 320; x++ {
		img.SetGray(x, 0, color.Gray{Y: 0x60})
		img.SetGray(x, 239, color.Gray{Y: 0x60})
	}
	for y := 0; y < 240; y++ {
		img.SetGray(0, y, color.Gray{Y: 0x60})
		img.SetGray(319, y, color.Gray{Y: 0x60})
	}
	err := storage.WriteAtomic(path, func(w io.Writer) error {
		return png.Encode(w, img)
	})
	return path, err
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
