package fsutil

// File and directory permission constants used for downloaded data and
// session artifacts.
const (
	FileModeDefault = 0o644 // -rw-r--r--: downloaded files
	FileModePrivate = 0o600 // -rw-------: session artifacts and credentials

	DirModeDefault = 0o755 // drwxr-xr-x: output folders
	DirModePrivate = 0o700 // drwx------: config directory
)
