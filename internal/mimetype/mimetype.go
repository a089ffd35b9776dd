// Package mimetype infers MIME types for attachment uploads: by filename
// extension for named files, by content sniffing for raw bytes, and the
// reverse mapping for generating filenames from a detected type.
package mimetype

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// extraByExt covers extensions the platform registry commonly misses.
// mime.TypeByExtension is consulted first.
var extraByExt = map[string]string{
	".md":    "text/markdown",
	".yaml":  "application/x-yaml",
	".yml":   "text/yaml",
	".toml":  "application/toml",
	".csv":   "text/csv",
	".log":   "text/plain",
	".eml":   "message/rfc822",
	".webp":  "image/webp",
	".heic":  "image/heic",
	".mkv":   "video/x-matroska",
	".flac":  "audio/flac",
	".epub":  "application/epub+zip",
	".woff2": "font/woff2",
}

// extByMIME maps MIME types to a preferred extension for generated
// filenames. Unknown types fall back to ".bin".
var extByMIME = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"image/svg+xml":      ".svg",
	"application/pdf":    ".pdf",
	"application/zip":    ".zip",
	"application/gzip":   ".gz",
	"application/json":   ".json",
	"application/xml":    ".xml",
	"text/plain":         ".txt",
	"text/html":          ".html",
	"text/csv":           ".csv",
	"text/markdown":      ".md",
	"audio/mpeg":         ".mp3",
	"audio/wav":          ".wav",
	"audio/ogg":          ".ogg",
	"video/mp4":          ".mp4",
	"video/webm":         ".webm",
	"video/quicktime":    ".mov",
	"font/woff":          ".woff",
	"font/woff2":         ".woff2",
	"message/rfc822":     ".eml",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
}

// ByFilename returns the MIME type for a filename, or
// "application/octet-stream" when the extension is unknown.
func ByFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if t, ok := extraByExt[ext]; ok {
		return t
	}
	return "application/octet-stream"
}

// Detect sniffs the MIME type from the leading bytes of the content.
func Detect(data []byte) string {
	return http.DetectContentType(data)
}

// ExtensionFor returns the preferred filename extension for a MIME type,
// ignoring parameters ("text/plain; charset=utf-8"). Unknown types yield
// ".bin".
func ExtensionFor(mimeType string) string {
	base := mimeType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if ext, ok := extByMIME[base]; ok {
		return ext
	}
	return ".bin"
}

// Filename generates a name for the i-th unnamed attachment in an upload.
func Filename(mimeType string, index int) string {
	return fmt.Sprintf("attachment_%d%s", index, ExtensionFor(mimeType))
}
