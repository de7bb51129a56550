// Package feed contains the core domain types for the municipality's social feed.
package feed

// RemotePost is a post as returned by the Graph API page feed.
type RemotePost struct {
	ID          string       `json:"id"`
	CreatedTime string       `json:"created_time"` // ISO 8601, e.g. "2026-01-17T11:51:48+0000"
	Message     string       `json:"message,omitempty"`
	FullPicture string       `json:"full_picture,omitempty"`
	Permalink   string       `json:"permalink_url"`
	Attachments *Attachments `json:"attachments,omitempty"`
}

// Attachments wraps the attachment edge of a post.
type Attachments struct {
	Data []Attachment `json:"data"`
}

// Attachment is a single post attachment (photo, video, share, native_templates, ...).
type Attachment struct {
	Type        string  `json:"type"`
	Media       *Media  `json:"media,omitempty"`
	Title       string  `json:"title,omitempty"` // Used to detect unavailable shared content
	Description string  `json:"description,omitempty"`
	Target      *Target `json:"target,omitempty"`
	URL         string  `json:"url,omitempty"`
}

// Media describes attachment media.
type Media struct {
	Image *Image `json:"image,omitempty"`
}

// Image is an attachment image descriptor.
type Image struct {
	Src    string `json:"src"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Target points at the object a shared attachment refers to.
type Target struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// AttachmentList returns the post's attachments, or nil when it has none.
func (p *RemotePost) AttachmentList() []Attachment {
	if p.Attachments == nil {
		return nil
	}
	return p.Attachments.Data
}

// Response is the page feed envelope.
type Response struct {
	Data   []RemotePost `json:"data"`
	Paging *Paging      `json:"paging,omitempty"`
}

// Paging holds Graph API cursors.
type Paging struct {
	Cursors *struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors,omitempty"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// DisplayPost is a normalized, size-bounded post ready for rendering.
// Field names match the payload stored in the cache.
type DisplayPost struct {
	ID       string `json:"id" yaml:"id"`
	Date     string `json:"date" yaml:"date"` // ISO 8601
	Title    string `json:"title" yaml:"title"`
	Excerpt  string `json:"excerpt" yaml:"excerpt"`
	PostURL  string `json:"postUrl" yaml:"post_url"`
	ImageURL string `json:"imageUrl,omitempty" yaml:"image_url,omitempty"`
}

// CacheEntry is the last successful fetch plus its write time.
type CacheEntry struct {
	Posts     []DisplayPost
	Timestamp int64 // Milliseconds since epoch
}
