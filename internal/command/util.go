package command

import (
	"strings"
	"time"
)

func equalFoldStr(b []byte, s string) bool {
	return strings.EqualFold(string(b), s)
}

func secondsToDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}
