// Package ttsutils provides the file, path, and formatting helpers shared by
// the generation pipeline and its boundaries.
package ttsutils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Common directory and path constants.
const (
	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o600
	invalidCharReplacement = "_"
	sessionIDLength        = 8
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// File extension constants.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMD   = ".md"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extTXT  = ".txt"
	extWAV  = ".wav"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtOpenSource        = "failed to open %s: %w"
	errFmtCreateDest        = "failed to create %s: %w"
	errFmtCopy              = "failed to copy %s to %s: %w"
)

// ErrEmptySessionID is returned when a session id sanitises to nothing.
var ErrEmptySessionID = errors.New("session id is empty")

// NewSessionID returns a short random id for a generation session.
func NewSessionID() string {
	return uuid.NewString()[:sessionIDLength]
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(fs afero.Fs, path string) error {
	mkdirErr := fs.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf(errFmtOpenSource, src, err)
	}

	defer func() { _ = in.Close() }()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFilePermissions)
	if err != nil {
		return fmt.Errorf(errFmtCreateDest, dst, err)
	}

	_, err = io.Copy(out, in)

	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = fs.Remove(dst)

		return fmt.Errorf(errFmtCopy, src, dst, err)
	}

	return nil
}

// MoveFile renames src to dst, falling back to copy and remove when the
// rename fails, for example across devices.
func MoveFile(fs afero.Fs, src, dst string) error {
	renameErr := fs.Rename(src, dst)
	if renameErr == nil {
		return nil
	}

	err := CopyFile(fs, src, dst)
	if err != nil {
		return err
	}

	_ = fs.Remove(src)

	return nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// IsValidAudioFile checks if a filename has a common audio file extension.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC:
		return true
	default:
		return false
	}
}

// IsValidTextFile checks if a filename has a plain text or markdown extension.
func IsValidTextFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extTXT, extMD:
		return true
	default:
		return false
	}
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

// SanitizeSessionID makes id safe to embed in file and directory names. It
// strips surrounding whitespace and leading dots so that an id can never name
// a parent or hidden directory.
func SanitizeSessionID(id string) (string, error) {
	cleaned := SanitizeFilename(strings.TrimSpace(id))
	cleaned = strings.Join(strings.Fields(cleaned), invalidCharReplacement)
	cleaned = strings.TrimLeft(cleaned, ".")

	if cleaned == "" {
		return "", ErrEmptySessionID
	}

	return cleaned, nil
}
