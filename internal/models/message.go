package models

// Message types. Image and file messages carry a reference URL returned by the
// upload endpoint; the content field holds the original filename.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

// Message is a chat message within one team room. Messages are immutable once
// created; ids are assigned by the server.
type Message struct {
	ID         string `json:"id"`
	TeamID     int64  `json:"team_id"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	FileURL    string `json:"file_url,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// UploadResult is returned by the attachment upload endpoint.
type UploadResult struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
}
