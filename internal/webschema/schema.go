// Package webschema holds the raw payload shapes the web client produces.
package webschema

import (
	"strconv"
	"strings"
)

// MessageType is the web client's numeric message kind.
type MessageType int

const (
	MsgText           MessageType = 1
	MsgImage          MessageType = 3
	MsgVoice          MessageType = 34
	MsgVerify         MessageType = 37
	MsgPossibleFriend MessageType = 40
	MsgShareCard      MessageType = 42
	MsgVideo          MessageType = 43
	MsgEmoticon       MessageType = 47
	MsgLocation       MessageType = 48
	MsgApp            MessageType = 49
	MsgVoip           MessageType = 50
	MsgStatusNotify   MessageType = 51
	MsgVoipNotify     MessageType = 52
	MsgVoipInvite     MessageType = 53
	MsgMicroVideo     MessageType = 62
	MsgSysNotice      MessageType = 9999
	MsgSys            MessageType = 10000
	MsgRecalled       MessageType = 10002
)

// AppMsgType is the sub-kind of an app message.
type AppMsgType int

const (
	AppText          AppMsgType = 1
	AppImg           AppMsgType = 2
	AppAudio         AppMsgType = 3
	AppVideo         AppMsgType = 4
	AppURL           AppMsgType = 5
	AppAttach        AppMsgType = 6
	AppOpen          AppMsgType = 7
	AppEmoji         AppMsgType = 8
	AppVoiceRemind   AppMsgType = 9
	AppScanGood      AppMsgType = 10
	AppGood          AppMsgType = 13
	AppEmotion       AppMsgType = 15
	AppCardTicket    AppMsgType = 16
	AppRealtimeShare AppMsgType = 17
	AppTransfers     AppMsgType = 2000
	AppRedEnvelopes  AppMsgType = 2001
	AppReaderType    AppMsgType = 100001
)

// MediaType is the upload classification the remote service expects.
type MediaType int

const (
	MediaImage      MediaType = 1
	MediaVideo      MediaType = 2
	MediaAudio      MediaType = 3
	MediaAttachment MediaType = 4
)

// SubMsgLocation marks a text message that carries a location preview.
const SubMsgLocation = MsgLocation

// RawMessage is a message as delivered by the transport.
type RawMessage struct {
	MsgID                string      `json:"MsgId"`
	MsgType              MessageType `json:"MsgType"`
	AppMsgType           AppMsgType  `json:"AppMsgType,omitempty"`
	SubMsgType           MessageType `json:"SubMsgType,omitempty"`
	FromUserName         string      `json:"FromUserName"`
	ToUserName           string      `json:"ToUserName"`
	MMActualSender       string      `json:"MMActualSender"`
	MMActualContent      string      `json:"MMActualContent"`
	MMDisplayTime        int64       `json:"MMDisplayTime"`
	MMIsChatRoom         bool        `json:"MMIsChatRoom"`
	Content              string      `json:"Content"`
	FileName             string      `json:"FileName,omitempty"`
	FileSize             string      `json:"FileSize,omitempty"`
	MediaID              string      `json:"MediaId,omitempty"`
	MMAppMsgDownloadURL  string      `json:"MMAppMsgDownloadUrl,omitempty"`
	MMAppMsgFileExt      string      `json:"MMAppMsgFileExt,omitempty"`
	URL                  string      `json:"Url,omitempty"`
	Signature            string      `json:"Signature,omitempty"`
	MsgIDBeforeTranspond string      `json:"MsgIdBeforeTranspond,omitempty"`
	MMSourceMsgID        string      `json:"MMSourceMsgId,omitempty"`
	IsTranspond          bool        `json:"isTranspond,omitempty"`
}

// Size parses FileSize, returning 0 when absent or malformed.
func (m RawMessage) Size() int64 {
	n, err := strconv.ParseInt(m.FileSize, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// RawContact is a contact as delivered by the transport. The zero value
// stands for an absent payload.
type RawContact struct {
	UserName   string `json:"UserName"`
	Alias      string `json:"Alias"`
	NickName   string `json:"NickName"`
	RemarkName string `json:"RemarkName"`
	Sex        int    `json:"Sex"`
	Province   string `json:"Province"`
	City       string `json:"City"`
	Signature  string `json:"Signature"`
	StarFriend int    `json:"StarFriend"`
	Stranger   *bool  `json:"stranger,omitempty"`
	HeadImgURL string `json:"HeadImgUrl"`
	VerifyFlag int    `json:"VerifyFlag"`
}

// IsZero reports whether the payload carries no data at all.
func (c RawContact) IsZero() bool {
	return c.UserName == "" && c.Alias == "" && c.NickName == "" && c.RemarkName == "" &&
		c.Sex == 0 && c.Province == "" && c.City == "" && c.Signature == "" &&
		c.StarFriend == 0 && c.Stranger == nil && c.HeadImgURL == "" && c.VerifyFlag == 0
}

// VerifyFlagOfficial is the bit set on official accounts.
const VerifyFlagOfficial = 8

type RawMember struct {
	UserName    string `json:"UserName"`
	NickName    string `json:"NickName"`
	DisplayName string `json:"DisplayName"`
}

type RawRoom struct {
	UserName        string      `json:"UserName"`
	NickName        string      `json:"NickName"`
	EncryChatRoomID string      `json:"EncryChatRoomId"`
	OwnerUin        int64       `json:"OwnerUin"`
	MemberList      []RawMember `json:"MemberList"`
}

// Cookie is one browser cookie of the session jar.
type Cookie struct {
	Name     string  `json:"name" toml:"name"`
	Value    string  `json:"value" toml:"value"`
	Domain   string  `json:"domain,omitempty" toml:"domain,omitempty"`
	Path     string  `json:"path,omitempty" toml:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty" toml:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty" toml:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty" toml:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty" toml:"same_site,omitempty"`
}

// ScanData is emitted while the session waits for a QR login.
type ScanData struct {
	Code   int    `json:"code"`
	URL    string `json:"url"`
	QRCode string `json:"qrcode,omitempty"`
}

// MediaPayload is handed to the transport to send an uploaded file.
type MediaPayload struct {
	ToUserName string      `json:"ToUserName"`
	MediaID    string      `json:"MediaId"`
	MsgType    MessageType `json:"MsgType"`
	FileName   string      `json:"FileName"`
	FileSize   int64       `json:"FileSize"`
	FileMd5    string      `json:"FileMd5"`
	MMFileExt  string      `json:"MMFileExt"`
	Signature  string      `json:"Signature,omitempty"`
}

// CookieHeader renders the jar as a Cookie request header value.
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// CookieValue returns the value of the named cookie, or "".
func CookieValue(cookies []Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
