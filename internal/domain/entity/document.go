package entity

import (
	"path"
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)

// Document is a stored blob returned for download
type Document struct {
	Slot    DocumentSlot
	Name    string
	Content []byte
}

// Path returns the storage-relative path of a document in slot s. A non-empty
// prefix keeps uploads with the same original name apart.
func (s DocumentSlot) Path(prefix, filename string) string {
	name := SanitizeFileName(filename)
	if name == "" {
		name = "document"
	}
	if prefix != "" {
		name = prefix + "_" + name
	}
	return path.Join(s.Dir(), name)
}

// SanitizeFileName returns a filesystem-safe version of a file name.
// Path separators and parent references are dropped to prevent traversal.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}
