package xfer

import (
	"mime"
	"path/filepath"
	"strings"
)

const defaultMimeType = "application/octet-stream"

// mimeTypeByExtension determines the type of file from its extension, without any
// parameters such as charset.
func mimeTypeByExtension(name string) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		return defaultMimeType
	}

	if semicolon := strings.Index(mimeType, ";"); semicolon != -1 {
		mimeType = mimeType[:semicolon]
	}

	return strings.TrimSpace(mimeType)
}
