package normalize

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// Message normalizes a raw message. Binary kinds get a RemoteFile that is
// not fetched here.
func (n *Normalizer) Message(ctx context.Context, raw webschema.RawMessage) (*types.Message, error) {
	msg := &types.Message{
		ID:     raw.MsgID,
		Type:   classifyRaw(raw),
		FromID: raw.MMActualSender,
		Text:   raw.MMActualContent,
	}
	if raw.MMDisplayTime > 0 {
		msg.Date = time.UnixMilli(raw.MMDisplayTime)
	}

	if raw.MMIsChatRoom {
		switch {
		case types.IsRoomID(raw.FromUserName):
			msg.RoomID = raw.FromUserName
		case types.IsRoomID(raw.ToUserName):
			msg.RoomID = raw.ToUserName
		default:
			return nil, types.NewError(types.KindPayloadMissingField, "normalize message",
				"room message %s has no room identity in FromUserName or ToUserName", raw.MsgID)
		}
	}
	if raw.ToUserName != "" && !types.IsRoomID(raw.ToUserName) {
		msg.ToID = raw.ToUserName
	}

	if msg.Type != types.MessageTypeText && msg.Type != types.MessageTypeUnknown {
		file, err := n.File(ctx, raw)
		if err != nil {
			return nil, err
		}
		msg.File = file
	}
	return msg, nil
}

// File resolves the content locator of a media-bearing message.
func (n *Normalizer) File(ctx context.Context, raw webschema.RawMessage) (*types.RemoteFile, error) {
	rawURL, err := n.locator(ctx, raw)
	if err != nil {
		return nil, err
	}
	if rawURL == "" {
		return nil, types.NewError(types.KindPayloadMissingField, "normalize file",
			"no url for message %s of type %d", raw.MsgID, raw.MsgType)
	}
	if strings.HasPrefix(strings.ToLower(rawURL), "https") {
		rawURL = "http" + rawURL[len("https"):]
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, types.WrapError(types.KindPayloadMissingField, "normalize file", err)
	}

	name := Filename(raw)
	if name == "" {
		return nil, types.NewError(types.KindPayloadMissingField, "normalize file", "no filename for message %s", raw.MsgID)
	}

	cookies, err := n.transport.Cookies(ctx)
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "normalize file: cookies", err)
	}
	return &types.RemoteFile{
		Name:   name,
		URL:    rawURL,
		Header: FileHeader(u.Hostname(), rawURL, cookies),
	}, nil
}

func (n *Normalizer) locator(ctx context.Context, raw webschema.RawMessage) (string, error) {
	var kind bridge.MediaKind
	switch raw.MsgType {
	case webschema.MsgEmoticon:
		kind = bridge.MediaKindEmoticon
	case webschema.MsgImage:
		kind = bridge.MediaKindImage
	case webschema.MsgVideo, webschema.MsgMicroVideo:
		kind = bridge.MediaKindVideo
	case webschema.MsgVoice:
		kind = bridge.MediaKindVoice
	case webschema.MsgApp:
		switch raw.AppMsgType {
		case webschema.AppAttach:
			if raw.MMAppMsgDownloadURL == "" {
				return "", types.NewError(types.KindPayloadMissingField, "normalize file",
					"attachment %s has no download url", raw.MsgID)
			}
			return raw.MMAppMsgDownloadURL, nil
		case webschema.AppURL, webschema.AppReaderType:
			if raw.URL == "" {
				return "", types.NewError(types.KindPayloadMissingField, "normalize file",
					"link %s has no url", raw.MsgID)
			}
			return raw.URL, nil
		default:
			return "", types.NewError(types.KindUnsupportedMediaKind, "normalize file",
				"app message sub-kind %d", raw.AppMsgType)
		}
	case webschema.MsgText:
		if raw.SubMsgType != webschema.SubMsgLocation {
			return "", nil
		}
		kind = bridge.MediaKindLocationImage
	default:
		return "", nil
	}

	u, err := n.transport.MediaURL(ctx, raw.MsgID, kind)
	if err != nil {
		return "", types.WrapError(types.KindTransport, "normalize file: media url", err)
	}
	return u, nil
}
