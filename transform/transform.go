// Package transform turns Graph API posts into display posts.
package transform

import (
	"strings"
	"tuy-site/pkg/feed"
	"tuy-site/textnorm"
	"unicode/utf8"
)

const (
	maxTitleRunes   = 60
	maxExcerptRunes = 150
	ellipsis        = "..."

	// FallbackTitle is used for posts without a message.
	FallbackTitle = "Announcement"
	// EmptyMessageExcerpt is used for posts without a message.
	EmptyMessageExcerpt = "View this post on Facebook for more details."
	// MissingExcerpt is used when a message has nothing beyond its title.
	MissingExcerpt = "Click to read more on Facebook."

	unavailableType  = "native_templates"
	unavailableTitle = "content isn't available"
)

// Parse splits a post message into a title and an excerpt.
//
// The title is the first non-empty line. The excerpt is the remaining lines joined
// with spaces or, for single-line messages, whatever the title truncation cut off.
// Both are measured in runes and capped with an ellipsis.
func Parse(message string) (title, excerpt string) {
	if strings.TrimSpace(message) == "" {
		return FallbackTitle, EmptyMessageExcerpt
	}

	lines := nonEmptyLines(textnorm.Normalize(message))

	first := []rune(lines[0])
	title = lines[0]
	consumed := len(first)
	if len(first) > maxTitleRunes {
		title = strings.TrimSpace(string(first[:maxTitleRunes])) + ellipsis
		consumed = maxTitleRunes
	}

	if len(lines) > 1 {
		excerpt = strings.Join(lines[1:], " ")
	} else {
		excerpt = strings.TrimSpace(string(first[consumed:]))
	}

	if utf8.RuneCountInString(excerpt) > maxExcerptRunes {
		excerpt = strings.TrimSpace(string([]rune(excerpt)[:maxExcerptRunes])) + ellipsis
	}

	if strings.TrimSpace(excerpt) == "" {
		excerpt = MissingExcerpt
	}

	return title, excerpt
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ExtractImage returns the best image for a post: the first attachment image,
// then the full picture. ok is false when the post has no image.
func ExtractImage(post *feed.RemotePost) (url string, ok bool) {
	for _, a := range post.AttachmentList() {
		if a.Media != nil && a.Media.Image != nil && a.Media.Image.Src != "" {
			return a.Media.Image.Src, true
		}
	}
	if post.FullPicture != "" {
		return post.FullPicture, true
	}
	return "", false
}

// IsUnavailable reports whether a post only shares content that has since been
// deleted or made private.
func IsUnavailable(post *feed.RemotePost) bool {
	for _, a := range post.AttachmentList() {
		if a.Type != unavailableType {
			continue
		}
		title := strings.ToLower(strings.ReplaceAll(a.Title, "’", "'"))
		if strings.Contains(title, unavailableTitle) {
			return true
		}
	}
	return false
}

// ToDisplay converts a single post. It is a pure function of its input.
func ToDisplay(post *feed.RemotePost) feed.DisplayPost {
	title, excerpt := Parse(post.Message)
	image, _ := ExtractImage(post)
	return feed.DisplayPost{
		ID:       post.ID,
		Date:     post.CreatedTime,
		Title:    title,
		Excerpt:  excerpt,
		PostURL:  post.Permalink,
		ImageURL: image,
	}
}

// Posts drops unavailable shared posts and converts the rest, keeping API order.
func Posts(posts []feed.RemotePost) []feed.DisplayPost {
	out := make([]feed.DisplayPost, 0, len(posts))
	for i := range posts {
		if IsUnavailable(&posts[i]) {
			continue
		}
		out = append(out, ToDisplay(&posts[i]))
	}
	return out
}
