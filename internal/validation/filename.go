package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// maxFilenameLength is the common filesystem limit for one path element.
const maxFilenameLength = 255

// unsafeFilenameChars break Content-Disposition quoting or act as path
// separators.
var unsafeFilenameChars = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
	'\n': true,
	'\r': true,
}

// SanitizeFilename makes name safe for use as a single path element and in a
// Content-Disposition header. Unsafe and control characters become
// underscores, Unicode is preserved and the result is truncated to 255 bytes
// keeping the extension. Empty results become "file".
func SanitizeFilename(name string) string {
	return sanitize(name, maxFilenameLength)
}

// StagedFilename derives the staging file name of an upload from the job id
// and the client-supplied name. Any directory part of the client name is
// discarded.
func StagedFilename(jobID, originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	prefix := jobID + "_"
	return prefix + sanitize(base, maxFilenameLength-len(prefix))
}

// ContentDisposition returns an attachment header value for filename.
func ContentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", SanitizeFilename(filename))
}

func sanitize(name string, limit int) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || unsafeFilenameChars[r] {
			sb.WriteRune('_')
			continue
		}
		sb.WriteRune(r)
	}

	result := strings.TrimSpace(sb.String())
	if result == "" || strings.Trim(result, "_") == "" || result == "." || result == ".." {
		return "file"
	}

	if len(result) > limit {
		result = truncateKeepingExt(result, limit)
	}
	return result
}

func truncateKeepingExt(name string, limit int) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= limit {
		return truncateUTF8(name, limit)
	}
	base := strings.TrimSuffix(name, ext)
	return truncateUTF8(base, limit-len(ext)) + ext
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
