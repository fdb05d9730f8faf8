package assets

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		path         string
		contentType  string
		cacheControl string
	}{
		{"index.html", "text/html", CacheNoCache},
		{"docs/guide.htm", "text/html", CacheNoCache},
		{"app.a1b2c3d4e5f6.js", "application/javascript", CacheImmutable},
		{"assets/chunk-deadbeef01.css", "text/css", CacheImmutable},
		{"styles/main.css", "text/css", CacheMedium},
		{"img/logo.png", "image/png", CacheMedium},
		{"fonts/inter.woff2", "font/woff2", CacheMedium},
		{"data/records.json", "application/json", CacheShort},
		{"sitemap.xml", "application/xml", CacheShort},
		{"README.md", "text/markdown", CacheShort},
		{"Makefile", DefaultContentType, CacheShort},
		{"module.wasm", "application/wasm", CacheShort},
	}
	for _, tc := range cases {
		contentType, cacheControl := Classify(tc.path)
		if contentType != tc.contentType {
			t.Errorf("Classify(%q) content type = %q, want %q", tc.path, contentType, tc.contentType)
		}
		if cacheControl != tc.cacheControl {
			t.Errorf("Classify(%q) cache control = %q, want %q", tc.path, cacheControl, tc.cacheControl)
		}
	}
}

func TestClassifyNoCacheBeatsHashedName(t *testing.T) {
	// A hash-like run in the name must not promote mutable files to immutable.
	if _, cc := Classify("report.a1b2c3d4e5.html"); cc != CacheNoCache {
		t.Fatalf("hashed html got %q, want %q", cc, CacheNoCache)
	}
	if _, cc := Classify("config.a1b2c3d4e5.js"); cc != CacheNoCache {
		t.Fatalf("hashed config got %q, want %q", cc, CacheNoCache)
	}
}

func TestClassifyConfigLikeNames(t *testing.T) {
	for _, name := range []string{"config.js", "app-settings.json", "install", "setup", "run-build.txt", "deploy.sh"} {
		if _, cc := Classify(name); cc != CacheNoCache {
			t.Errorf("Classify(%q) cache control = %q, want %q", name, cc, CacheNoCache)
		}
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	contentType, cacheControl := Classify("IMG/Logo.PNG")
	if contentType != "image/png" {
		t.Fatalf("content type = %q, want image/png", contentType)
	}
	if cacheControl != CacheMedium {
		t.Fatalf("cache control = %q, want %q", cacheControl, CacheMedium)
	}
}

func TestClassifyShortHexRunIsNotHashed(t *testing.T) {
	// Fewer than 8 hex characters is a version tag, not a content hash.
	if _, cc := Classify("app.abc123.js"); cc != CacheMedium {
		t.Fatalf("cache control = %q, want %q", cc, CacheMedium)
	}
}
