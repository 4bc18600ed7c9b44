package media

import (
	"mime"
	"strings"

	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

var mimeTypes = map[string]string{
	".bmp":  "image/bmp",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".amr":  "audio/amr",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".zip":  "application/zip",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// ContentType returns the MIME type for a file extension, or "".
func ContentType(ext string) string {
	ext = strings.ToLower(ext)
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if ext == "" {
		return ""
	}
	t := mime.TypeByExtension(ext)
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return t
}

// MediaTypeOf classifies an extension for the upload form.
func MediaTypeOf(ext string) webschema.MediaType {
	switch strings.ToLower(ext) {
	case ".bmp", ".jpeg", ".jpg", ".png", ".gif":
		return webschema.MediaImage
	case ".mp4":
		return webschema.MediaVideo
	default:
		return webschema.MediaAttachment
	}
}

// SendTypeOf picks the message kind used to send an uploaded file.
func SendTypeOf(ext string) webschema.MessageType {
	switch strings.ToLower(ext) {
	case ".bmp", ".jpeg", ".jpg", ".png":
		return webschema.MsgImage
	case ".gif":
		return webschema.MsgEmoticon
	case ".mp4":
		return webschema.MsgVideo
	default:
		return webschema.MsgApp
	}
}

func mediaTypeLabel(t webschema.MediaType) string {
	switch t {
	case webschema.MediaImage:
		return "image"
	case webschema.MediaVideo:
		return "video"
	case webschema.MediaAudio:
		return "audio"
	default:
		return "attachment"
	}
}
