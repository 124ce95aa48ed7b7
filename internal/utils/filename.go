package utils

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFileName maps every character outside [A-Za-z0-9._-] to '_'.
// Names that would be empty or only dots become "image_<id>".
func SanitizeFileName(name string, id uint) string {
	clean := unsafeNameChars.ReplaceAllString(name, "_")
	if strings.Trim(clean, ".") == "" {
		return "image_" + strconv.FormatUint(uint64(id), 10)
	}
	return clean
}

// BaseName strips the last extension: "cat.01.jpg" -> "cat.01".
func BaseName(name string) string {
	ext := filepath.Ext(name)
	if ext == name {
		return name
	}
	return strings.TrimSuffix(name, ext)
}
