package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var numberedSuffix = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// FilenameFromURL returns the last path segment of rawURL, or "" when there is none.
// Example: https://example.com/a/b/file.zip?x=1 -> file.zip
func FilenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	p := parsed.Path
	if unescaped, err := url.PathUnescape(parsed.EscapedPath()); err == nil {
		p = unescaped
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// SanitizeFilename strips directory components and characters that are
// unsafe in file names. It returns "" if nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), " .")
	if len(out) > 255 {
		ext := filepath.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:255-len(ext)] + ext
	}
	return out
}

// UniqueFilePath returns p, or the first "name(N).ext" variant of it that
// does not exist on disk and is not reported as taken.
func UniqueFilePath(p string, taken func(string) bool) string {
	inUse := func(candidate string) bool {
		if taken != nil && taken(candidate) {
			return true
		}
		_, err := os.Stat(candidate)
		return err == nil
	}

	if !inUse(p) {
		return p
	}

	dir := filepath.Dir(p)
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(filepath.Base(p), ext)

	next := 1
	if m := numberedSuffix.FindStringSubmatch(base); m != nil {
		base = m[1]
		n, _ := strconv.Atoi(m[2])
		next = n + 1
	}

	for i := next; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, i, ext))
		if !inUse(candidate) {
			return candidate
		}
	}
}

// EnsureAbsPath makes p absolute against the working directory. It returns
// p unchanged when that fails.
func EnsureAbsPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
