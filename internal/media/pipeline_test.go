package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

type fakeSession struct {
	mu             sync.Mutex
	calls          int
	host           string
	uploadMediaURL string
	failCookies    error
}

func (s *fakeSession) touch() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *fakeSession) Cookies(context.Context) ([]webschema.Cookie, error) {
	s.touch()
	if s.failCookies != nil {
		return nil, s.failCookies
	}
	return []webschema.Cookie{{Name: "wxuin", Value: "1"}, {Name: "webwx_data_ticket", Value: "ticket-1"}}, nil
}

func (s *fakeSession) Hostname(context.Context) (string, error) { s.touch(); return s.host, nil }

func (s *fakeSession) PassTicket(context.Context) (string, error) { s.touch(); return "pass-1", nil }

func (s *fakeSession) BaseRequest(context.Context) (json.RawMessage, error) {
	s.touch()
	return json.RawMessage(`{"BaseRequest":{"Uin":1,"Sid":"s","Skey":"k","DeviceID":"e1"}}`), nil
}

func (s *fakeSession) UploadMediaURL(context.Context) (string, error) {
	s.touch()
	return s.uploadMediaURL, nil
}

func (s *fakeSession) CheckUploadURL(context.Context) (string, error) {
	s.touch()
	return "/cgi-bin/mmwebwx-bin/webwxcheckupload", nil
}

// remote records what the fake web service received.
type remote struct {
	mu          sync.Mutex
	checks      []map[string]any
	forms       []map[string]string
	fileBytes   int
	checkReply  string
	uploadReply string
	header      http.Header
}

func (r *remote) checkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.checks)
}

func newRemote(t *testing.T) (*remote, *fakeSession, *Pipeline) {
	t.Helper()
	r := &remote{
		checkReply:  `{"BaseResponse":{"Ret":0},"Signature":"sig1","AESKey":"key1"}`,
		uploadReply: `{"BaseResponse":{"Ret":0},"MediaId":"media-1"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxcheckupload", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.checks = append(r.checks, body)
		r.mu.Unlock()
		io.WriteString(w, r.checkReply)
	})
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxuploadmedia", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("f") != "json" {
			http.Error(w, "missing f=json", http.StatusBadRequest)
			return
		}
		if err := req.ParseMultipartForm(64 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k, v := range req.MultipartForm.Value {
			form[k] = v[0]
		}
		n := 0
		if fh := req.MultipartForm.File["filename"]; len(fh) == 1 {
			n = int(fh[0].Size)
			form["filename"] = fh[0].Filename
		}
		r.mu.Lock()
		r.forms = append(r.forms, form)
		r.fileBytes = n
		r.header = req.Header.Clone()
		r.mu.Unlock()
		io.WriteString(w, r.uploadReply)
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	sess := &fakeSession{
		host:           srv.Listener.Addr().String(),
		uploadMediaURL: srv.URL + "/cgi-bin/mmwebwx-bin/webwxuploadmedia",
	}
	now := time.UnixMilli(1700000000000)
	p := New(sess, WithHTTPClient(srv.Client()), WithNow(func() time.Time { return now }))
	return r, sess, p
}

func TestUploadSmallImage(t *testing.T) {
	r, sess, p := newRemote(t)
	data := []byte("not really a png")

	desc, err := p.Upload(context.Background(), File{Name: "cat.png", Data: data}, "@me", "@friend")
	require.NoError(t, err)

	assert.Equal(t, "media-1", desc.RemoteMediaID)
	assert.Equal(t, "cat.png", desc.Filename)
	assert.Equal(t, int64(len(data)), desc.ByteLength)
	sum := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), desc.Checksum)
	assert.Equal(t, ".png", desc.Ext)
	assert.Empty(t, desc.Signature)
	assert.Equal(t, 0, r.checkCount())

	require.Len(t, r.forms, 1)
	form := r.forms[0]
	assert.Equal(t, "WU_FILE_0", form["id"])
	assert.Equal(t, "cat.png", form["name"])
	assert.Equal(t, "image/png", form["type"])
	assert.Equal(t, "16", form["size"])
	assert.Equal(t, "1", form["mediatype"])
	assert.Equal(t, "ticket-1", form["webwx_data_ticket"])
	assert.Equal(t, "pass-1", form["pass_ticket"])
	assert.Equal(t, "cat.png", form["filename"])
	assert.Equal(t, len(data), r.fileBytes)

	var umr map[string]any
	require.NoError(t, json.Unmarshal([]byte(form["uploadmediarequest"]), &umr))
	assert.Equal(t, desc.Checksum, umr["FileMd5"])
	assert.Equal(t, "@me", umr["FromUserName"])
	assert.Equal(t, "@friend", umr["ToUserName"])
	assert.EqualValues(t, 2, umr["UploadType"])
	assert.EqualValues(t, 4, umr["MediaType"])
	assert.EqualValues(t, 1700000000000, umr["ClientMediaId"])
	assert.EqualValues(t, len(data), umr["DataLen"])
	assert.EqualValues(t, len(data), umr["TotalLen"])
	assert.NotContains(t, umr, "Signature")
	assert.NotContains(t, umr, "AESKey")
	assert.Equal(t, map[string]any{"Uin": float64(1), "Sid": "s", "Skey": "k", "DeviceID": "e1"}, umr["BaseRequest"])

	assert.Equal(t, "https://"+sess.host, r.header.Get("Referer"))
	assert.Equal(t, "wxuin=1; webwx_data_ticket=ticket-1", r.header.Get("Cookie"))
	assert.Contains(t, r.header.Get("User-Agent"), "Chrome/50")

	_, err = p.Upload(context.Background(), File{Name: "cat.png", Data: data}, "@me", "@friend")
	require.NoError(t, err)
	assert.Equal(t, "WU_FILE_1", r.forms[1]["id"])
}

func TestUploadLargeFilePerformsCheck(t *testing.T) {
	r, _, p := newRemote(t)
	data := make([]byte, 30*1024*1024)

	desc, err := p.Upload(context.Background(), File{Name: "dump.zip", Data: data}, "@me", "@@room")
	require.NoError(t, err)
	assert.Equal(t, "sig1", desc.Signature)

	require.Equal(t, 1, r.checkCount())
	check := r.checks[0]
	assert.Equal(t, "dump.zip", check["FileName"])
	assert.EqualValues(t, len(data), check["FileSize"])
	assert.EqualValues(t, 7, check["FileType"])
	assert.Equal(t, "@@room", check["ToUserName"])
	assert.Equal(t, desc.Checksum, check["FileMd5"])

	var umr map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.forms[0]["uploadmediarequest"]), &umr))
	assert.Equal(t, "sig1", umr["Signature"])
	assert.Equal(t, "key1", umr["AESKey"])
	assert.Equal(t, "4", r.forms[0]["mediatype"])
}

func TestUploadThresholdBoundary(t *testing.T) {
	r, _, p := newRemote(t)

	_, err := p.Upload(context.Background(), File{Name: "a.pdf", Data: make([]byte, LargeFileSize-1)}, "@me", "@b")
	require.NoError(t, err)
	assert.Equal(t, 0, r.checkCount())

	_, err = p.Upload(context.Background(), File{Name: "a.pdf", Data: make([]byte, LargeFileSize+1)}, "@me", "@b")
	require.NoError(t, err)
	assert.Equal(t, 1, r.checkCount())
}

func TestUploadRejectsBeforeNetwork(t *testing.T) {
	_, sess, p := newRemote(t)
	ctx := context.Background()

	_, err := p.Upload(ctx, File{Name: "clip.mp4", Data: make([]byte, MaxVideoSize+1)}, "@me", "@b")
	assert.ErrorIs(t, err, types.Kind(types.KindMediaTooLarge))

	_, err = p.Upload(ctx, File{Name: "huge.pdf", Data: make([]byte, MaxFileSize+1)}, "@me", "@b")
	assert.ErrorIs(t, err, types.Kind(types.KindMediaTooLarge))

	_, err = p.Upload(ctx, File{Name: "noext", Data: []byte("x")}, "@me", "@b")
	assert.ErrorIs(t, err, types.Kind(types.KindUnsupportedMediaKind))

	assert.Equal(t, 0, sess.calls)
}

func TestUploadHandshakeFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"non-zero ret", `{"BaseResponse":{"Ret":1,"ErrMsg":"denied"}}`},
		{"no signature", `{"BaseResponse":{"Ret":0},"Signature":""}`},
		{"garbage", `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, p := newRemote(t)
			r.checkReply = tt.reply
			_, err := p.Upload(context.Background(), File{Name: "big.zip", Data: make([]byte, LargeFileSize+1)}, "@me", "@b")
			assert.ErrorIs(t, err, types.Kind(types.KindUploadHandshake))
			assert.Empty(t, r.forms)
		})
	}
}

func TestUploadSubmitWithoutMediaID(t *testing.T) {
	r, _, p := newRemote(t)
	r.uploadReply = `{"BaseResponse":{"Ret":0},"MediaId":""}`
	_, err := p.Upload(context.Background(), File{Name: "a.txt", Data: []byte("hi")}, "@me", "@b")
	assert.ErrorIs(t, err, types.Kind(types.KindUploadSubmit))
}

func TestUploadSessionFailure(t *testing.T) {
	_, sess, p := newRemote(t)
	sess.failCookies = errors.New("page closed")
	_, err := p.Upload(context.Background(), File{Name: "a.txt", Data: []byte("hi")}, "@me", "@b")
	assert.ErrorIs(t, err, types.Kind(types.KindTransport))
}

func TestPayloadFromDescriptor(t *testing.T) {
	p := Payload(&types.MediaDescriptor{
		ToUserName: "@b", Filename: "x.gif", ByteLength: 3, Checksum: "c", Ext: ".gif",
		Signature: "s", RemoteMediaID: "m",
	})
	assert.Equal(t, webschema.MediaPayload{
		ToUserName: "@b", MediaID: "m", MsgType: webschema.MsgEmoticon, FileName: "x.gif",
		FileSize: 3, FileMd5: "c", MMFileExt: ".gif", Signature: "s",
	}, p)
}

func TestContentTypeAndKinds(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType(".JPG"))
	assert.Equal(t, "", ContentType(""))
	assert.True(t, strings.HasPrefix(ContentType(".html"), "text/html"))
	assert.Equal(t, webschema.MediaImage, MediaTypeOf(".gif"))
	assert.Equal(t, webschema.MediaVideo, MediaTypeOf(".mp4"))
	assert.Equal(t, webschema.MediaAttachment, MediaTypeOf(".pdf"))
	assert.Equal(t, webschema.MsgImage, SendTypeOf(".png"))
	assert.Equal(t, webschema.MsgApp, SendTypeOf(".pdf"))
}
