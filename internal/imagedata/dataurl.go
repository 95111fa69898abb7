// Package imagedata converts between image bytes and the base64 data URLs the
// browser sends and receives.
package imagedata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultMimeType = "image/png"

var (
	ErrEmpty    = errors.New("image payload is empty")
	ErrNotImage = errors.New("payload is not an image")
	ErrTooLarge = errors.New("image exceeds the upload limit")
)

// Decode accepts a data URL or bare base64 and returns the image bytes and MIME type.
// Only the text after the first comma is decoded when a comma is present.
func Decode(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", ErrEmpty
	}

	header, body, found := strings.Cut(payload, ",")
	if !found {
		body, header = header, ""
	}
	if body == "" {
		return nil, "", ErrEmpty
	}

	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		// Some encoders drop padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(body, "="))
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 image: %w", err)
		}
	}

	mime := headerMime(header)
	if mime == "" {
		mime = Sniff(data)
	}
	return data, mime, nil
}

// EncodeDataURL returns data as a base64 data URL
func EncodeDataURL(mime string, data []byte) string {
	if mime == "" {
		mime = DefaultMimeType
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Sniff detects the MIME type of image bytes
func Sniff(data []byte) string {
	mime := mimetype.Detect(data).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// Validate checks that data is a non-empty image no larger than maxBytes.
// A maxBytes of zero disables the size check.
func Validate(data []byte, mime string, maxBytes int64) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, len(data), maxBytes)
	}
	if !strings.HasPrefix(mime, "image/") {
		return fmt.Errorf("%w: %s", ErrNotImage, mime)
	}
	return nil
}

func headerMime(header string) string {
	if !strings.HasPrefix(header, "data:") {
		return ""
	}
	mime := strings.TrimPrefix(header, "data:")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
