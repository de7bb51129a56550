package feed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// PageURL is the municipality's official Facebook page.
const PageURL = "https://www.facebook.com/MunicipalityOfTuy"

//go:embed fallback.yaml
var fallbackYAML []byte

var fallbackPosts = mustParseFallback(fallbackYAML)

// FallbackPosts returns a copy of the bundled static posts, newest first.
func FallbackPosts() []DisplayPost {
	out := make([]DisplayPost, len(fallbackPosts))
	copy(out, fallbackPosts)
	return out
}

// ParseFallback decodes a YAML list of posts.
func ParseFallback(data []byte) ([]DisplayPost, error) {
	var doc struct {
		Posts []DisplayPost `yaml:"posts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fallback posts: %w", err)
	}
	for i, p := range doc.Posts {
		if p.ID == "" || p.Title == "" || p.PostURL == "" {
			return nil, fmt.Errorf("fallback post %d: id, title and post_url are required", i)
		}
	}
	return doc.Posts, nil
}

func mustParseFallback(data []byte) []DisplayPost {
	posts, err := ParseFallback(data)
	if err != nil {
		panic(err)
	}
	return posts
}
