// internal/types/models.go
package types

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MessageType is the canonical message kind exposed to consumers.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeAttachment
	MessageTypeAudio
	MessageTypeContact
	MessageTypeEmoticon
	MessageTypeImage
	MessageTypeText
	MessageTypeVideo
)

var messageTypeNames = map[MessageType]string{
	MessageTypeUnknown:    "unknown",
	MessageTypeAttachment: "attachment",
	MessageTypeAudio:      "audio",
	MessageTypeContact:    "contact",
	MessageTypeEmoticon:   "emoticon",
	MessageTypeImage:      "image",
	MessageTypeText:       "text",
	MessageTypeVideo:      "video",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

type Gender int

const (
	GenderUnknown Gender = iota
	GenderMale
	GenderFemale
)

type ContactType int

const (
	ContactTypeUnknown ContactType = iota
	ContactTypePersonal
	ContactTypeOfficial
)

// Message is a normalized chat message.
type Message struct {
	ID     string      `json:"id"`
	Type   MessageType `json:"type"`
	FromID string      `json:"from_id,omitempty"`
	ToID   string      `json:"to_id,omitempty"`
	RoomID string      `json:"room_id,omitempty"`
	Text   string      `json:"text"`
	Date   time.Time   `json:"date"`
	File   *RemoteFile `json:"-"`
}

// Contact is a normalized contact record. Friend is nil when the
// stranger flag was absent from the raw payload.
type Contact struct {
	ID        string      `json:"id"`
	Weixin    string      `json:"weixin,omitempty"`
	Name      string      `json:"name"`
	Alias     string      `json:"alias,omitempty"`
	Gender    Gender      `json:"gender"`
	Province  string      `json:"province,omitempty"`
	City      string      `json:"city,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Address   string      `json:"address,omitempty"`
	Star      bool        `json:"star"`
	Friend    *bool       `json:"friend,omitempty"`
	Avatar    string      `json:"avatar,omitempty"`
	Type      ContactType `json:"type"`
}

// Room is a normalized group chat with per-member name maps.
type Room struct {
	ID              string            `json:"id"`
	Topic           string            `json:"topic"`
	MemberIDs       []string          `json:"member_ids"`
	NameMap         map[string]string `json:"name_map"`
	RoomAliasMap    map[string]string `json:"room_alias_map"`
	ContactAliasMap map[string]string `json:"contact_alias_map"`
}

// MediaDescriptor describes a file accepted by the remote service.
// RemoteMediaID is assigned once the upload succeeds.
type MediaDescriptor struct {
	ToUserName    string `json:"to_user_name"`
	Filename      string `json:"filename"`
	ByteLength    int64  `json:"byte_length"`
	Checksum      string `json:"checksum"`
	MediaKind     int    `json:"media_kind"`
	Ext           string `json:"ext"`
	Signature     string `json:"signature,omitempty"`
	RemoteMediaID string `json:"remote_media_id"`
}

// RemoteFile is a lazily fetched binary. Nothing is downloaded until Open.
type RemoteFile struct {
	Name   string
	URL    string
	Header http.Header
}

// Open issues the GET request for the file and returns its body.
// The caller closes the returned reader.
func (f *RemoteFile) Open(ctx context.Context, client *http.Client) (io.ReadCloser, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if host := f.Header.Get("Host"); host != "" {
		req.Host = host
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", f.Name, resp.StatusCode)
	}
	return resp.Body, nil
}
