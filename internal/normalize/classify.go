package normalize

import (
	"log/slog"
	"regexp"
	"strconv"

	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// Classify maps a raw message kind to its canonical kind. Unknown kinds
// fall back to text.
func Classify(t webschema.MessageType) types.MessageType {
	switch t {
	case webschema.MsgText, webschema.MsgSys:
		return types.MessageTypeText
	case webschema.MsgEmoticon, webschema.MsgImage:
		return types.MessageTypeImage
	case webschema.MsgVoice:
		return types.MessageTypeAudio
	case webschema.MsgMicroVideo, webschema.MsgVideo:
		return types.MessageTypeVideo
	default:
		slog.Warn("unsupported message type, treated as text", "component", "normalize", "msg_type", int(t))
		return types.MessageTypeText
	}
}

// classifyRaw refines Classify with the app sub-kind: file attachments
// carry a download locator and are exposed as attachments.
func classifyRaw(raw webschema.RawMessage) types.MessageType {
	if raw.MsgType == webschema.MsgApp && raw.AppMsgType == webschema.AppAttach {
		return types.MessageTypeAttachment
	}
	return Classify(raw.MsgType)
}

var extPattern = regexp.MustCompile(`(?i)\.[a-z0-9]{1,7}$`)

// Filename picks a file name for the payload, appending an extension when
// the raw name has none.
func Filename(raw webschema.RawMessage) string {
	name := raw.FileName
	if name == "" {
		name = raw.MediaID
	}
	if name == "" {
		name = raw.MsgID
	}
	if name == "" {
		return ""
	}
	if extPattern.MatchString(name) {
		return name
	}
	if raw.MMAppMsgFileExt != "" {
		return name + "." + raw.MMAppMsgFileExt
	}
	return name + Extname(raw)
}

// Extname returns the default extension for a raw payload's kind.
func Extname(raw webschema.RawMessage) string {
	switch raw.MsgType {
	case webschema.MsgEmoticon:
		return ".gif"
	case webschema.MsgImage:
		return ".jpg"
	case webschema.MsgVideo, webschema.MsgMicroVideo:
		return ".mp4"
	case webschema.MsgVoice:
		return ".mp3"
	case webschema.MsgApp:
		if raw.AppMsgType == webschema.AppURL {
			return ".url"
		}
	case webschema.MsgText:
		if raw.SubMsgType == webschema.SubMsgLocation {
			return ".jpg"
		}
	}
	return "." + strconv.Itoa(int(raw.MsgType))
}
