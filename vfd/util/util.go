package util

import (
	"os"
	"strconv"
)

// DebugEnabled VFD_DEBUG forces debug logging.
func DebugEnabled() bool {
	return envBool("VFD_DEBUG")
}

// HttpTraceEnabled VFD_HTTP_TRACE dumps TRA requests, responses and timings.
func HttpTraceEnabled() bool {
	return envBool("VFD_HTTP_TRACE")
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// GetEnvOrDefault returns the variable value or def when it is unset or empty.
func GetEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
