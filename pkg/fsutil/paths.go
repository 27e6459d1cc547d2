// Package fsutil provides file system helpers for laying out the download tree.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName is the name of the application used in paths.
const AppName = "gpd"

// folderReplacer turns a portal folder name into a single path element.
// Spaces become underscores as the portal's own tooling does; separators
// are neutralised so a folder name cannot climb out of the output root.
var folderReplacer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

// SanitizeFolder converts a portal folder name into a directory name.
// It returns "" for names that are empty or consist only of dots.
func SanitizeFolder(name string) string {
	s := folderReplacer.Replace(strings.TrimSpace(name))
	if strings.Trim(s, ".") == "" {
		return ""
	}
	return s
}

// DestinationDir returns the directory a file from parentFolder is written to.
func DestinationDir(root, parentFolder string) string {
	if folder := SanitizeFolder(parentFolder); folder != "" {
		return filepath.Join(root, folder)
	}
	return root
}

// FileName returns the base name filename is stored under. It returns ""
// when filename names no file: empty, ".", "..", or ending in a separator.
func FileName(filename string) string {
	name := strings.TrimSpace(filename)
	if name == "" || strings.HasSuffix(name, "/") || strings.HasSuffix(name, `\`) {
		return ""
	}
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "." || base == ".." || strings.Trim(base, `/\`) == "" {
		return ""
	}
	return base
}

// DestinationPath returns the full local path for filename under parentFolder.
// Only the base name of filename is used; callers reject names for which
// FileName returns "".
func DestinationPath(root, parentFolder, filename string) string {
	return filepath.Join(DestinationDir(root, parentFolder), FileName(filename))
}

// GetConfigDir returns the platform-specific configuration directory for the application.
// On Linux: ~/.config/gpd/
// On macOS: ~/Library/Application Support/gpd/
// On Windows: %AppData%\gpd\
func GetConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}
