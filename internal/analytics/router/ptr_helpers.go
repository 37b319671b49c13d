package router

import "strings"

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := value
	return &v
}

func int64Ptr(value int64) *int64 {
	v := value
	return &v
}
