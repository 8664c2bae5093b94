package logger

// RotateConfig mirrors the fields lumberjack.Logger exposes for log-file
// rotation, so callers never need to import lumberjack directly.
type RotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// DefaultRotateConfig is the rotation the CLIs use: 512 MB files, ten
// backups, no compression. These are not lumberjack's own defaults.
func DefaultRotateConfig() RotateConfig {
	return RotateConfig{
		MaxFileSizeMB:   512,
		BackupFileCount: 10,
		Compress:        false,
	}
}
