package imageproxy

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// PlaceholderMediaType is the media type of the placeholder image.
const PlaceholderMediaType = "image/png"

// 1x1 PNG
const placeholderPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

var placeholder = mustDecode(placeholderPNG)

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Placeholder returns a copy of the image served when an upstream fetch fails.
func Placeholder() []byte {
	return bytes.Clone(placeholder)
}

func placeholderImage(source string, err error) Image {
	return Image{
		Data:        Placeholder(),
		MediaType:   PlaceholderMediaType,
		Source:      source,
		Placeholder: true,
		Err:         err,
	}
}

// Sniff returns the media type of data detected from its content signature,
// without parameters such as charset.
func Sniff(data []byte) string {
	mediaType := mimetype.Detect(data).String()
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.TrimSpace(mediaType)
}
