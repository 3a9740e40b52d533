package id

import (
	"crypto/rand"
	"path"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable
// by creation time and safe for use as DynamoDB partition keys.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// ObjectKey builds a unique object-store key under prefix for an uploaded
// file, keeping a sanitised form of its original name for readability.
func ObjectKey(prefix, filename string) string {
	name := strings.ToLower(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		name = "file"
	}
	if len(name) > 64 {
		name = name[len(name)-64:]
	}
	return strings.TrimSuffix(prefix, "/") + "/" + New() + "-" + name
}
