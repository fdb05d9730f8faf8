// Package assets maps deployed file paths to content-type and cache-control
// headers. Classification is pure lookup over static tables, no I/O.
package assets

import (
	"path"
	"regexp"
	"strings"
)

// DefaultContentType is returned for extensions with no table entry.
const DefaultContentType = "application/octet-stream"

// Cache-control values in precedence order. HTML and mutable config-like
// files must always be re-fetched; hashed build artifacts never change under
// the same name; recognized static assets get a medium lifetime; everything
// else a short one.
const (
	CacheNoCache   = "no-cache"
	CacheImmutable = "public, max-age=31536000, immutable"
	CacheMedium    = "public, max-age=604800"
	CacheShort     = "public, max-age=86400"
)

var contentTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".json":  "application/json",
	".xml":   "application/xml",
	".txt":   "text/plain",
	".md":    "text/markdown",
	".csv":   "text/csv",
	".pdf":   "application/pdf",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".mp3":   "audio/mpeg",
	".wav":   "audio/wav",
	".ogg":   "audio/ogg",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".tar":   "application/x-tar",
	".wasm":  "application/wasm",
}

// noCacheExts are always served no-cache: HTML changes between deploys under
// the same name, and scripts are mutable operational files, not assets.
var noCacheExts = map[string]struct{}{
	".html": {},
	".htm":  {},
	".sh":   {},
	".py":   {},
	".rb":   {},
	".php":  {},
	".pl":   {},
}

// staticAssetExts get the medium cache lifetime when no stronger rule applies.
var staticAssetExts = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".avif": {}, ".ico": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp3": {}, ".wav": {}, ".ogg": {}, ".mp4": {}, ".webm": {},
}

// hashedBase matches content-addressed build artifacts: a run of 8+ lowercase
// hex characters delimited by dot, dash, or underscore immediately before the
// extension, e.g. app.a1b2c3d4e5f6.js or chunk-deadbeef01.css.
var hashedBase = regexp.MustCompile(`[._-][0-9a-f]{8,}$`)

// Classify returns the content-type and cache-control for a deployed file
// path. Rule order is a correctness requirement: an HTML file containing a
// hash-like substring is still no-cache because the no-cache rule runs first.
func Classify(relPath string) (contentType, cacheControl string) {
	name := strings.ToLower(path.Base(path.Clean(strings.ReplaceAll(relPath, "\\", "/"))))
	ext := path.Ext(name)

	contentType = contentTypes[ext]
	if contentType == "" {
		contentType = DefaultContentType
	}

	switch {
	case isNoCache(name, ext):
		cacheControl = CacheNoCache
	case hashedBase.MatchString(strings.TrimSuffix(name, ext)):
		cacheControl = CacheImmutable
	case isStaticAsset(ext):
		cacheControl = CacheMedium
	default:
		cacheControl = CacheShort
	}
	return contentType, cacheControl
}

func isNoCache(name, ext string) bool {
	if _, ok := noCacheExts[ext]; ok {
		return true
	}
	base := strings.TrimSuffix(name, ext)
	if strings.Contains(base, "config") || strings.Contains(base, "settings") {
		return true
	}
	if base == "install" || base == "setup" {
		return true
	}
	return strings.HasPrefix(base, "run-")
}

func isStaticAsset(ext string) bool {
	_, ok := staticAssetExts[ext]
	return ok
}
