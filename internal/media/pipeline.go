// Package media uploads files to the web chat service so they can be
// referenced by outbound messages.
package media

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LinuxSuRen/wechaty/internal/metrics"
	"github.com/LinuxSuRen/wechaty/internal/telemetry"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

const (
	MaxFileSize   = 100 * 1024 * 1024
	MaxVideoSize  = 20 * 1024 * 1024
	LargeFileSize = 25 * 1024 * 1024
)

const (
	uploadTypeAttachment = 2
	checkFileType        = 7
	userAgent            = "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/50.0.2661.102 Safari/537.36"
)

// Session supplies the per-call session material. Nothing is cached.
type Session interface {
	Cookies(ctx context.Context) ([]webschema.Cookie, error)
	Hostname(ctx context.Context) (string, error)
	PassTicket(ctx context.Context) (string, error)
	BaseRequest(ctx context.Context) (json.RawMessage, error)
	UploadMediaURL(ctx context.Context) (string, error)
	CheckUploadURL(ctx context.Context) (string, error)
}

// File is an in-memory payload to upload.
type File struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// ReadFile loads a file from disk.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f := File{Name: filepath.Base(path), Data: data}
	if info, err := os.Stat(path); err == nil {
		f.ModTime = info.ModTime()
	}
	return f, nil
}

type Option func(*Pipeline)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline owns the client media id sequence; ids are unique per pipeline.
type Pipeline struct {
	session Session
	client  *http.Client
	now     func() time.Time
	fileSeq atomic.Int64
	tracer  trace.Tracer
	log     *slog.Logger
}

func New(s Session, opts ...Option) *Pipeline {
	p := &Pipeline{
		session: s,
		client:  &http.Client{Timeout: 5 * time.Minute},
		now:     time.Now,
		tracer:  telemetry.Tracer("media"),
		log:     slog.With("component", "media"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type uploadMediaRequest struct {
	BaseRequest   json.RawMessage `json:"BaseRequest"`
	FileMd5       string          `json:"FileMd5"`
	FromUserName  string          `json:"FromUserName"`
	ToUserName    string          `json:"ToUserName"`
	UploadType    int             `json:"UploadType"`
	ClientMediaID int64           `json:"ClientMediaId"`
	MediaType     int             `json:"MediaType"`
	StartPos      int             `json:"StartPos"`
	DataLen       int64           `json:"DataLen"`
	TotalLen      int64           `json:"TotalLen"`
	Signature     string          `json:"Signature,omitempty"`
	AESKey        string          `json:"AESKey,omitempty"`
}

type checkUploadRequest struct {
	BaseRequest  json.RawMessage `json:"BaseRequest"`
	FromUserName string          `json:"FromUserName"`
	ToUserName   string          `json:"ToUserName"`
	FileName     string          `json:"FileName"`
	FileSize     int64           `json:"FileSize"`
	FileMd5      string          `json:"FileMd5"`
	FileType     int             `json:"FileType"`
}

type checkUploadResponse struct {
	BaseResponse *struct {
		Ret    int    `json:"Ret"`
		ErrMsg string `json:"ErrMsg"`
	} `json:"BaseResponse"`
	Signature string `json:"Signature"`
	AESKey    string `json:"AESKey"`
}

// material is the session state gathered for one upload.
type material struct {
	baseRequest    json.RawMessage
	passTicket     string
	uploadMediaURL string
	checkUploadURL string
	cookies        []webschema.Cookie
	hostname       string
}

// Upload transfers f on behalf of fromUserName for delivery to toUserName.
// No step is retried.
func (p *Pipeline) Upload(ctx context.Context, f File, fromUserName, toUserName string) (desc *types.MediaDescriptor, err error) {
	ext := filepath.Ext(f.Name)
	mediaType := MediaTypeOf(ext)
	size := int64(len(f.Data))
	label := mediaTypeLabel(mediaType)
	start := p.now()

	ctx, span := p.tracer.Start(ctx, "media.Upload", trace.WithAttributes(
		attribute.String("media.filename", f.Name),
		attribute.Int64("media.size", size),
		attribute.String("media.type", label),
		attribute.String("media.upload_id", string(types.NewUploadID())),
	))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(types.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RecordUpload(label, outcome, size, p.now().Sub(start))
		span.End()
	}()

	contentType := ContentType(ext)
	if contentType == "" {
		return nil, types.NewError(types.KindUnsupportedMediaKind, "upload", "no MIME type for %q", f.Name)
	}
	if mediaType == webschema.MediaVideo && size > MaxVideoSize {
		return nil, types.NewError(types.KindMediaTooLarge, "upload",
			"video %s is %d bytes, limit is %dMB", f.Name, size, MaxVideoSize/1024/1024)
	}
	if size > MaxFileSize {
		return nil, types.NewError(types.KindMediaTooLarge, "upload",
			"file %s is %d bytes, limit is %dMB", f.Name, size, MaxFileSize/1024/1024)
	}

	sum := md5.Sum(f.Data)
	checksum := hex.EncodeToString(sum[:])

	m, err := p.gather(ctx)
	if err != nil {
		return nil, err
	}

	id := "WU_FILE_" + strconv.FormatInt(p.fileSeq.Add(1)-1, 10)
	header := http.Header{}
	header.Set("Referer", "https://"+m.hostname)
	header.Set("User-Agent", userAgent)
	header.Set("Cookie", webschema.CookieHeader(m.cookies))

	req := uploadMediaRequest{
		BaseRequest:   m.baseRequest,
		FileMd5:       checksum,
		FromUserName:  fromUserName,
		ToUserName:    toUserName,
		UploadType:    uploadTypeAttachment,
		ClientMediaID: p.now().UnixMilli(),
		MediaType:     int(webschema.MediaAttachment),
		StartPos:      0,
		DataLen:       size,
		TotalLen:      size,
	}
	desc = &types.MediaDescriptor{
		ToUserName: toUserName,
		Filename:   f.Name,
		ByteLength: size,
		Checksum:   checksum,
		MediaKind:  int(mediaType),
		Ext:        ext,
	}

	if size > LargeFileSize {
		span.AddEvent("check upload")
		sig, key, err := p.checkUpload(ctx, m, header, checkUploadRequest{
			BaseRequest:  m.baseRequest,
			FromUserName: fromUserName,
			ToUserName:   toUserName,
			FileName:     f.Name,
			FileSize:     size,
			FileMd5:      checksum,
			FileType:     checkFileType,
		})
		if err != nil {
			return nil, err
		}
		req.Signature = sig
		req.AESKey = key
		desc.Signature = sig
	}

	mediaID, err := p.submit(ctx, m, header, id, f, contentType, mediaType, req)
	if err != nil {
		return nil, err
	}
	desc.RemoteMediaID = mediaID
	p.log.Info("media uploaded", "file", f.Name, "size", size, "media_id", mediaID)
	return desc, nil
}

func (p *Pipeline) gather(ctx context.Context) (*material, error) {
	wrap := func(what string, err error) error {
		return types.WrapError(types.KindTransport, "upload: "+what, err)
	}
	var m material
	rawBase, err := p.session.BaseRequest(ctx)
	if err != nil {
		return nil, wrap("base request", err)
	}
	m.baseRequest = extractBaseRequest(rawBase)
	if m.passTicket, err = p.session.PassTicket(ctx); err != nil {
		return nil, wrap("pass ticket", err)
	}
	if m.uploadMediaURL, err = p.session.UploadMediaURL(ctx); err != nil {
		return nil, wrap("upload media url", err)
	}
	if m.checkUploadURL, err = p.session.CheckUploadURL(ctx); err != nil {
		return nil, wrap("check upload url", err)
	}
	if m.cookies, err = p.session.Cookies(ctx); err != nil {
		return nil, wrap("cookies", err)
	}
	if m.hostname, err = p.session.Hostname(ctx); err != nil {
		return nil, wrap("hostname", err)
	}
	return &m, nil
}

// extractBaseRequest unwraps {"BaseRequest": {...}} when present.
func extractBaseRequest(raw json.RawMessage) json.RawMessage {
	var wrapped struct {
		BaseRequest json.RawMessage `json:"BaseRequest"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.BaseRequest) > 0 {
		return wrapped.BaseRequest
	}
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func (p *Pipeline) checkUpload(ctx context.Context, m *material, header http.Header, body checkUploadRequest) (string, string, error) {
	fail := func(format string, args ...any) error {
		return types.NewError(types.KindUploadHandshake, "check upload", format, args...)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", "", types.WrapError(types.KindUploadHandshake, "check upload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+m.hostname+m.checkUploadURL, bytes.NewReader(payload))
	if err != nil {
		return "", "", types.WrapError(types.KindUploadHandshake, "check upload", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", types.WrapError(types.KindUploadHandshake, "check upload", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", types.WrapError(types.KindUploadHandshake, "check upload", err)
	}

	var out checkUploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", types.WrapError(types.KindUploadHandshake, "check upload", fmt.Errorf("decode %q: %w", truncate(raw), err))
	}
	if out.BaseResponse == nil {
		return "", "", fail("no BaseResponse in %q", truncate(raw))
	}
	if out.BaseResponse.Ret != 0 {
		return "", "", fail("ret %d %s", out.BaseResponse.Ret, out.BaseResponse.ErrMsg)
	}
	if out.Signature == "" {
		return "", "", fail("no signature returned")
	}
	return out.Signature, out.AESKey, nil
}

func (p *Pipeline) submit(ctx context.Context, m *material, header http.Header, id string, f File,
	contentType string, mediaType webschema.MediaType, umr uploadMediaRequest) (string, error) {
	wrap := func(err error) error { return types.WrapError(types.KindUploadSubmit, "upload media", err) }

	descriptor, err := json.Marshal(umr)
	if err != nil {
		return "", wrap(err)
	}
	modTime := f.ModTime
	if modTime.IsZero() {
		modTime = p.now()
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := []struct{ k, v string }{
		{"id", id},
		{"name", f.Name},
		{"type", contentType},
		{"lastModifiedDate", modTime.Format("Mon Jan 02 2006 15:04:05 GMT-0700 (MST)")},
		{"size", strconv.Itoa(len(f.Data))},
		{"mediatype", strconv.Itoa(int(mediaType))},
		{"uploadmediarequest", string(descriptor)},
		{"webwx_data_ticket", webschema.CookieValue(m.cookies, "webwx_data_ticket")},
		{"pass_ticket", m.passTicket},
	}
	for _, fld := range fields {
		if err := w.WriteField(fld.k, fld.v); err != nil {
			return "", wrap(err)
		}
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {multipart.FileContentDisposition("filename", f.Name)},
		"Content-Type":        {contentType},
	})
	if err != nil {
		return "", wrap(err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", wrap(err)
	}
	if err := w.Close(); err != nil {
		return "", wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.uploadMediaURL+"?f=json", &buf)
	if err != nil {
		return "", wrap(err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", wrap(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", types.NewError(types.KindUploadSubmit, "upload media", "status %d", resp.StatusCode)
	}
	var out struct {
		MediaID string `json:"MediaId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", wrap(fmt.Errorf("decode %q: %w", truncate(raw), err))
	}
	if out.MediaID == "" {
		return "", types.NewError(types.KindUploadSubmit, "upload media", "no MediaId in response")
	}
	return out.MediaID, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// Payload builds the transport payload for sending an uploaded file.
func Payload(desc *types.MediaDescriptor) webschema.MediaPayload {
	return webschema.MediaPayload{
		ToUserName: desc.ToUserName,
		MediaID:    desc.RemoteMediaID,
		MsgType:    SendTypeOf(desc.Ext),
		FileName:   desc.Filename,
		FileSize:   desc.ByteLength,
		FileMd5:    desc.Checksum,
		MMFileExt:  desc.Ext,
		Signature:  desc.Signature,
	}
}
