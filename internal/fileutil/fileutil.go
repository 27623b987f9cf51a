package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayName derives a human-readable title from a source file path.
// Separators become spaces and words are title-cased.
func DisplayName(sourcePath string) string {
	if sourcePath == "" {
		return "Untitled"
	}
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Untitled"
	}
	return cases.Title(language.Und).String(title)
}

// ResolveOutputPath joins the output directory with the source base name and
// the target extension, appending " (n)" suffixes until the path does not
// collide with an existing file.
func ResolveOutputPath(outputDir, sourcePath, format string) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	ext := "." + strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")

	candidate := filepath.Join(outputDir, stem+ext)
	for n := 1; pathExists(candidate); n++ {
		candidate = filepath.Join(outputDir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return candidate
}

// RemoveIfExists deletes the file at path, ignoring missing files. Used to
// clean up partial output after a failed or cancelled conversion.
func RemoveIfExists(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
