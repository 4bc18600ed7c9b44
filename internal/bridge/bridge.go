// Package bridge defines the contract of the browser transport the puppet
// drives. The puppet never implements these interfaces; it consumes them.
package bridge

import (
	"context"
	"encoding/json"

	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// Listener receives transport events. Implementations must not block for
// long; events are delivered sequentially.
type Listener interface {
	OnLogin(userID string)
	OnLogout(userID string)
	OnScan(data webschema.ScanData)
	OnMessage(msg webschema.RawMessage)
	OnError(err error)
	OnUnload()
	OnDing(data string)
	OnLog(text string)
}

// Lifecycle controls the underlying browser session.
type Lifecycle interface {
	Init(ctx context.Context) error
	Quit(ctx context.Context) error
	Reload(ctx context.Context) error
	Attach(l Listener)
	Detach(l Listener)
}

// Session exposes ambient session material. Nothing here is cached by
// callers; every value is fetched per use.
type Session interface {
	Cookies(ctx context.Context) ([]webschema.Cookie, error)
	Hostname(ctx context.Context) (string, error)
	PassTicket(ctx context.Context) (string, error)
	BaseRequest(ctx context.Context) (json.RawMessage, error)
	UploadMediaURL(ctx context.Context) (string, error)
	CheckUploadURL(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
	Ding(ctx context.Context, data string) error
}

// MediaKind selects which media locator the transport resolves.
type MediaKind string

const (
	MediaKindImage         MediaKind = "image"
	MediaKindVideo         MediaKind = "video"
	MediaKindVoice         MediaKind = "voice"
	MediaKindEmoticon      MediaKind = "emoticon"
	MediaKindLocationImage MediaKind = "location_image"
)

// Directory answers raw lookups.
type Directory interface {
	GetMessage(ctx context.Context, id string) (webschema.RawMessage, error)
	GetContact(ctx context.Context, id string) (webschema.RawContact, error)
	GetRoom(ctx context.Context, id string) (webschema.RawRoom, error)
	MediaURL(ctx context.Context, msgID string, kind MediaKind) (string, error)
	ContactFind(ctx context.Context, p Predicate) ([]string, error)
	RoomFind(ctx context.Context, p Predicate) ([]string, error)
}

// Mutator changes remote contact and room state.
type Mutator interface {
	ContactAlias(ctx context.Context, contactID, alias string) (bool, error)
	RoomAddMember(ctx context.Context, roomID, contactID string) error
	RoomDelMember(ctx context.Context, roomID, contactID string) error
	RoomModTopic(ctx context.Context, roomID, topic string) error
	RoomCreate(ctx context.Context, contactIDs []string, topic string) (string, error)
	VerifyUserRequest(ctx context.Context, contactID, hello string) error
	VerifyUserOk(ctx context.Context, contactID, ticket string) error
}

// Messenger sends outbound traffic.
type Messenger interface {
	Send(ctx context.Context, toUserName, text string) error
	SendMedia(ctx context.Context, payload webschema.MediaPayload) (bool, error)
	Forward(ctx context.Context, base webschema.RawMessage, patch ForwardPatch) error
}

// ForwardPatch is applied on top of the forwarded payload.
type ForwardPatch struct {
	FromUserName string `json:"FromUserName"`
	ToUserName   string `json:"ToUserName"`
	MMIsChatRoom bool   `json:"MMIsChatRoom"`
}

// Bridge is the full transport surface.
type Bridge interface {
	Lifecycle
	Session
	Directory
	Mutator
	Messenger
}

// Factory builds a fresh transport instance for hard recovery.
type Factory func() (Bridge, error)
