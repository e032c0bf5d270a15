package privatedata

import (
	"fmt"
	"strconv"
	"strings"
)

// ETag renders version as the quoted entity tag the HTTP API uses.
func ETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ParseETag parses a version entity tag. Weak tags are accepted; versions
// start at 1.
func ParseETag(v string) (int64, error) {
	unquoted := strings.Trim(strings.TrimPrefix(strings.TrimSpace(v), "W/"), `"`)
	version, err := strconv.ParseInt(unquoted, 10, 64)
	if err != nil || version < 1 {
		return 0, fmt.Errorf("not a version etag: %q", v)
	}
	return version, nil
}
