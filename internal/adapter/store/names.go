package store

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	minNameLen = 3
	maxNameLen = 512
)

var (
	validCollectionName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*[a-zA-Z0-9]$`)
	invalidNameChars    = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// NormalizeCollectionName maps any name onto [a-zA-Z0-9._-], 3 to 512
// characters, alphanumeric at both ends. Valid names are returned unchanged.
// Names that had to be rewritten get an md5 suffix so that distinct inputs
// stay distinct; names with nothing usable left become col_{md5[:8]}.
func NormalizeCollectionName(name string) string {
	if isValidName(name) {
		return name
	}

	sum := md5.Sum([]byte(name))
	hash := hex.EncodeToString(sum[:])[:8]

	sanitized := invalidNameChars.ReplaceAllString(name, "_")
	sanitized = strings.TrimFunc(sanitized, func(r rune) bool { return !isAlnum(r) })
	if len(sanitized) < minNameLen {
		return "col_" + hash
	}

	if limit := maxNameLen - len(hash) - 1; len(sanitized) > limit {
		sanitized = strings.TrimRightFunc(sanitized[:limit], func(r rune) bool { return !isAlnum(r) })
	}
	return sanitized + "_" + hash
}

func isValidName(name string) bool {
	return len(name) >= minNameLen && len(name) <= maxNameLen && validCollectionName.MatchString(name)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// DraftCollection is the collection indexing writes to.
func DraftCollection(courseID string) string {
	return NormalizeCollectionName("course_local_" + courseID)
}

// OnlineCollection is the collection promotion writes to and learners query.
func OnlineCollection(courseID string) string {
	return NormalizeCollectionName("course_online_" + courseID)
}
