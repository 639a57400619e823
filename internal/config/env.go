// Package config provides environment-backed settings for go-proctor commands.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults used when the corresponding environment variable is unset.
const (
	DefaultAddr        = ":8080"
	DefaultFaceModel   = "models/face_detection_yunet.onnx"
	DefaultObjectModel = "models/yolov8n.onnx"
	DefaultDBPath      = "proctor.db"
	DefaultLogLevel    = "info"
)

// Addr returns the HTTP listen address from PROCTOR_ADDR.
func Addr() string {
	return String("PROCTOR_ADDR", DefaultAddr)
}

// FaceModel returns the face model path from PROCTOR_FACE_MODEL.
func FaceModel() string {
	return String("PROCTOR_FACE_MODEL", DefaultFaceModel)
}

// ObjectModel returns the object model path from PROCTOR_OBJECT_MODEL.
func ObjectModel() string {
	return String("PROCTOR_OBJECT_MODEL", DefaultObjectModel)
}

// DBPath returns the violation store path from PROCTOR_DB.
func DBPath() string {
	return String("PROCTOR_DB", DefaultDBPath)
}

// LogLevel returns the log level from LOG_LEVEL.
func LogLevel() string {
	return String("LOG_LEVEL", DefaultLogLevel)
}

// String returns the env var value or def when unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the env var parsed as an int, or def when unset or invalid.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the env var parsed as a bool, or def when unset or invalid.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns the env var parsed with time.ParseDuration, or def.
func Duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
