package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// unsafeKeyChars matches every character not allowed in the filename
// segment of an object key.
var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeName sanitizes a client filename for use in an object key.
// Surrounding whitespace is trimmed, inner whitespace becomes "_" and any
// other character outside [A-Za-z0-9._-] becomes "-".
//
// Example:
//
//	"my report (v2).pdf" -> "my_report_-v2-.pdf"
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
	return unsafeKeyChars.ReplaceAllString(name, "-")
}

// ComputePrefix returns the date-partitioned, slash-terminated namespace
// for uploads of one user and project, in UTC.
//
// Example:
//
//	sub: "u1", project: "p9", now: 2026-03-07
//	result: "user/u1/project/p9/year=2026/month=03/day=07/"
func ComputePrefix(userSub, projectID string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("user/%s/project/%s/year=%04d/month=%02d/day=%02d/",
		userSub, projectID, now.Year(), int(now.Month()), now.Day())
}

// KeyForSingle returns the key of one file inside a single-part session.
// The sequence number lets a session hold several files.
//
// Example:
//
//	"<prefix>3f2a.../0001__photo.jpg"
func KeyForSingle(prefix, uploadID string, sequence int, filename string) string {
	return fmt.Sprintf("%s%s/%04d__%s", prefix, uploadID, sequence, SafeName(filename))
}

// KeyForMultipart returns the single key shared by every part of a
// multipart transfer.
func KeyForMultipart(prefix, uploadID, filename string) string {
	return fmt.Sprintf("%s%s/%s", prefix, uploadID, SafeName(filename))
}

// SplitKey splits an object key into its slash-terminated directory part
// and its final segment.
func SplitKey(key string) (prefix, filename string) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "/", key
	}
	return key[:i+1], key[i+1:]
}
