// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package airpanel

import "fmt"

// ImageFormat selects the encoding of the streamed panel images.
type ImageFormat int

const (
	PNG ImageFormat = iota
	JPEG

	// DefaultFormat is the format used when not set explicitly in options
	// or as a URL parameter.
	DefaultFormat = PNG
)

var formatInfo = map[ImageFormat]struct {
	name string
	mime string
}{
	PNG:  {"PNG", "image/png"},
	JPEG: {"JPEG", "image/jpeg"},
}

func (f ImageFormat) String() string {
	if info, ok := formatInfo[f]; ok {
		return info.name
	}
	return fmt.Sprint(int(f))
}

func (f ImageFormat) mimeType() string {
	if info, ok := formatInfo[f]; ok {
		return info.mime
	}
	return "application/octet-stream"
}

// ImageFormatFromString returns the ImageFormat value for the given format
// abbreviation. "jpg" and "jpeg" are both accepted.
func ImageFormatFromString(value string) (ImageFormat, error) {
	switch value {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	}
	return DefaultFormat, fmt.Errorf("unrecognized image format %q", value)
}
