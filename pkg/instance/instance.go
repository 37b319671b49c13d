package instance

import (
	"os"
	"strings"

	"github.com/threadline/shopfront-backend/pkg/env"
)

const idEnvVar = "SHOPFRONT_INSTANCE_ID"

var hostname = os.Hostname

// GetID identifies this process in logs. It prefers SHOPFRONT_INSTANCE_ID,
// then the host name, then "<kind>-0".
func GetID(kind string) string {
	if id := strings.TrimSpace(env.Get(idEnvVar, "")); id != "" {
		return id
	}
	if host, err := hostname(); err == nil && host != "" {
		return host
	}
	if kind == "" {
		kind = "shopfront"
	}
	return kind + "-0"
}
