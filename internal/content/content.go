// Package content extracts feed-relevant signals from note text.
package content

import (
	"regexp"
	"strings"
)

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

// ExtractHashtags returns the hashtags in content without the leading '#',
// de-duplicated and in order of first appearance.
func ExtractHashtags(content string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return []string{}
	}

	seen := make(map[string]bool, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := m[1]
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	return tags
}

// Type is the detected media type of a note
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
)

var (
	imagePattern = regexp.MustCompile(`(?i)\.(jpeg|jpg|png|gif)`)
	videoPattern = regexp.MustCompile(`(?i)\.(mp4|webm|ogg)`)
)

// DetectType classifies content by the file extensions it links to.
// Images win over video when both appear.
func DetectType(content string) Type {
	if imagePattern.MatchString(content) {
		return TypeImage
	}
	if videoPattern.MatchString(content) {
		return TypeVideo
	}
	return TypeText
}

// Length returns the content length in characters
func Length(content string) int {
	return len([]rune(content))
}

// ContainsFold reports whether text contains query, ignoring case
func ContainsFold(text, query string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(query))
}
