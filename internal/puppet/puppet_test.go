package puppet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/media"
	"github.com/LinuxSuRen/wechaty/internal/normalize"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

func newTestPuppet(t *testing.T, opts ...Option) (*Puppet, *fakeBridge) {
	t.Helper()
	fb := newFakeBridge()
	p, err := New(fb, quietConfig(), append([]Option{WithClock(clockwork.NewFakeClock())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, fb
}

func TestSendTextAddressing(t *testing.T) {
	p, fb := newTestPuppet(t)
	ctx := context.Background()

	require.NoError(t, p.SendText(ctx, Receiver{ContactID: "@bob", RoomID: "@@team"}, "hi all"))
	require.NoError(t, p.SendText(ctx, Receiver{ContactID: "@bob"}, "hi bob"))
	assert.Equal(t, []sentText{{to: "@@team", text: "hi all"}, {to: "@bob", text: "hi bob"}}, fb.sent)

	err := p.SendText(ctx, Receiver{}, "nobody")
	assert.Equal(t, types.KindInvalidState, types.KindOf(err))

	fb.sendErr = errors.New("socket closed")
	err = p.SendText(ctx, Receiver{ContactID: "@bob"}, "lost")
	assert.Equal(t, types.KindTransport, types.KindOf(err))
}

func TestSendFileRequiresLogin(t *testing.T) {
	p, _ := newTestPuppet(t)
	err := p.SendFile(context.Background(), Receiver{ContactID: "@bob"}, media.File{Name: "a.txt", Data: []byte("x")})
	assert.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestSendFileUploadsThenSends(t *testing.T) {
	var (
		mu      sync.Mutex
		umr     map[string]any
		gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		gotPath = r.URL.RequestURI()
		_ = json.Unmarshal([]byte(r.FormValue("uploadmediarequest")), &umr)
		mu.Unlock()
		w.Write([]byte(`{"BaseResponse":{"Ret":0},"MediaId":"media-1"}`))
	}))
	defer srv.Close()

	p, fb := newTestPuppet(t, WithHTTPClient(srv.Client()))
	fb.uploadURL = srv.URL + "/cgi-bin/mmwebwx-bin/webwxuploadmedia"
	p.Login("@me")

	err := p.SendFile(context.Background(), Receiver{ContactID: "@bob"}, media.File{Name: "notes.txt", Data: []byte("hello")})
	require.NoError(t, err)

	require.Len(t, fb.media, 1)
	sent := fb.media[0]
	assert.Equal(t, "media-1", sent.MediaID)
	assert.Equal(t, "@bob", sent.ToUserName)
	assert.Equal(t, "notes.txt", sent.FileName)
	assert.Equal(t, int64(5), sent.FileSize)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sent.FileMd5)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/cgi-bin/mmwebwx-bin/webwxuploadmedia?f=json", gotPath)
	assert.Equal(t, "@me", umr["FromUserName"])
	assert.Equal(t, "@bob", umr["ToUserName"])
}

func TestSendFileRefusedByTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MediaId":"media-2"}`))
	}))
	defer srv.Close()

	p, fb := newTestPuppet(t, WithHTTPClient(srv.Client()))
	fb.uploadURL = srv.URL
	fb.sendMediaOK = false
	p.Login("@me")

	err := p.SendFile(context.Background(), Receiver{RoomID: "@@team"}, media.File{Name: "a.png", Data: []byte{0x89, 'P', 'N', 'G'}})
	assert.Equal(t, types.KindTransport, types.KindOf(err))
}

func TestForwardRewritesPayload(t *testing.T) {
	p, fb := newTestPuppet(t)
	fb.messages["m1"] = webschema.RawMessage{
		MsgID:        "m1",
		MsgType:      webschema.MsgText,
		FromUserName: "@@origin",
		Content:      "@abc123:<br/>fish &amp; chips",
	}
	p.Login("@me")

	require.NoError(t, p.Forward(context.Background(), Receiver{ContactID: "@bob", RoomID: "@@team"}, "m1"))
	require.Len(t, fb.forwards, 1)
	call := fb.forwards[0]

	assert.Equal(t, bridge.ForwardPatch{FromUserName: "@me", ToUserName: "@@team", MMIsChatRoom: true}, call.patch)
	assert.Equal(t, "fish & chips", call.base.Content)
	assert.True(t, call.base.IsTranspond)
	assert.Equal(t, "m1", call.base.MsgIDBeforeTranspond)
	assert.Equal(t, "m1", call.base.MMSourceMsgID)
	assert.Equal(t, "@me", call.base.FromUserName)
	assert.True(t, call.base.MMIsChatRoom)
}

func TestForwardKeepsOriginalTranspondID(t *testing.T) {
	p, fb := newTestPuppet(t)
	fb.messages["m2"] = webschema.RawMessage{
		MsgID:                "m2",
		MsgIDBeforeTranspond: "m0",
		Content:              "wxid_sender-1:<br/>hello",
	}
	p.Login("@me")

	require.NoError(t, p.Forward(context.Background(), Receiver{ContactID: "@bob"}, "m2"))
	call := fb.forwards[0]
	assert.Equal(t, "m0", call.base.MsgIDBeforeTranspond)
	assert.Equal(t, "hello", call.base.Content)
	assert.False(t, call.patch.MMIsChatRoom)
	assert.Equal(t, "@bob", call.patch.ToUserName)
}

func TestForwardLargeFileNeedsSignature(t *testing.T) {
	p, fb := newTestPuppet(t)
	fb.messages["big"] = webschema.RawMessage{MsgID: "big", MsgType: webschema.MsgApp, FileSize: "26214400"}
	fb.messages["signed"] = webschema.RawMessage{MsgID: "signed", MsgType: webschema.MsgApp, FileSize: "26214400", Signature: "sig"}

	err := p.Forward(context.Background(), Receiver{ContactID: "@bob"}, "big")
	assert.Equal(t, types.KindMediaTooLarge, types.KindOf(err))
	assert.Empty(t, fb.forwards)

	require.NoError(t, p.Forward(context.Background(), Receiver{ContactID: "@bob"}, "signed"))
	assert.Len(t, fb.forwards, 1)
}

func TestContactAvatar(t *testing.T) {
	p, fb := newTestPuppet(t)
	fb.contacts["@alice"] = webschema.RawContact{
		UserName:   "@alice",
		NickName:   "Alice",
		HeadImgURL: "/cgi-bin/mmwebwx-bin/webwxgeticon?seq=1&username=@alice",
	}
	fb.contacts["@anon"] = webschema.RawContact{UserName: "@anon", HeadImgURL: "/icon?u=@anon"}
	fb.contacts["@plain"] = webschema.RawContact{UserName: "@plain", NickName: "Plain"}

	f, err := p.ContactAvatar(context.Background(), "@alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice-avatar.jpg", f.Name)
	assert.Equal(t, "http://wx.qq.com/cgi-bin/mmwebwx-bin/webwxgeticon?seq=1&username=@alice&type=big", f.URL)
	assert.Equal(t, "webwx_data_ticket=ticket; wxuin=42", f.Header.Get("Cookie"))

	f, err = p.ContactAvatar(context.Background(), "@anon")
	require.NoError(t, err)
	assert.Equal(t, "unknown-avatar.jpg", f.Name)

	_, err = p.ContactAvatar(context.Background(), "@plain")
	assert.Equal(t, types.KindPayloadMissingField, types.KindOf(err))

	fb.hostname = ""
	_, err = p.ContactAvatar(context.Background(), "@alice")
	assert.Equal(t, types.KindPayloadMissingField, types.KindOf(err))
}

func TestContactAndAlias(t *testing.T) {
	p, fb := newTestPuppet(t)
	fb.contacts["@alice"] = webschema.RawContact{UserName: "@alice", NickName: "Alice", Sex: 2}

	c, err := p.Contact(context.Background(), "@alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, types.GenderFemale, c.Gender)

	require.NoError(t, p.ContactAlias(context.Background(), "@alice", "Al"))
	assert.Equal(t, "Al", fb.aliasSet["@alice"])
}

func TestContactFindAll(t *testing.T) {
	p, fb := newTestPuppet(t)
	fb.contactSizes = []int{2}

	_, err := p.ContactFindAll(context.Background(), normalize.ContactQuery{})
	assert.Equal(t, types.KindInvalidState, types.KindOf(err))

	ids, err := p.ContactFindAll(context.Background(), normalize.ContactQuery{Alias: normalize.Match(regexp.MustCompile(`^A.*`))})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, bridge.Matches(bridge.FieldRemarkName, regexp.MustCompile(`^A.*`)), fb.lastFind)

	_, err = p.RoomFindAll(context.Background(), normalize.RoomQuery{Topic: normalize.Equal("ops")})
	require.NoError(t, err)
	assert.Equal(t, bridge.Equals(bridge.FieldTopic, "ops"), fb.lastFind)
}

func TestRoomOperations(t *testing.T) {
	p, fb := newTestPuppet(t)
	ctx := context.Background()

	_, err := p.RoomCreate(ctx, []string{"@a", "@b"}, "ops")
	assert.Equal(t, types.KindTransport, types.KindOf(err))

	fb.roomCreateID = "@@new"
	id, err := p.RoomCreate(ctx, []string{"@a", "@b"}, "ops")
	require.NoError(t, err)
	assert.Equal(t, "@@new", id)

	require.NoError(t, p.RoomAdd(ctx, "@@new", "@c"))
	require.NoError(t, p.RoomDel(ctx, "@@new", "@c"))
	require.NoError(t, p.RoomTopic(ctx, "@@new", "ops-2"))
	require.NoError(t, p.RoomQuit(ctx, "@@new"))
	assert.Equal(t, 1, fb.count("roomAdd"))
	assert.Equal(t, 1, fb.count("roomDel"))
	assert.Equal(t, 1, fb.count("roomTopic"))

	require.NoError(t, p.FriendRequestSend(ctx, "@d", "hello"))
	require.NoError(t, p.FriendRequestAccept(ctx, "@d", "ticket"))
	assert.Equal(t, 1, fb.count("verifyRequest"))
	assert.Equal(t, 1, fb.count("verifyOk"))
}

func TestInboundMessagesArePublished(t *testing.T) {
	p, fb := newTestPuppet(t)
	msgs := &recorder[*types.Message]{}
	errs := &recorder[error]{}
	p.Events().Message.Subscribe(msgs.add)
	p.Events().Error.Subscribe(errs.add)
	require.NoError(t, p.Start(context.Background()))

	fb.emit(func(l bridge.Listener) {
		l.OnMessage(webschema.RawMessage{
			MsgID:           "m9",
			MsgType:         webschema.MsgText,
			FromUserName:    "@alice",
			ToUserName:      "@me",
			MMActualSender:  "@alice",
			MMActualContent: "hi there",
		})
	})
	require.Eventually(t, func() bool { return msgs.len() == 1 }, waitFor, tick)
	got := msgs.all()[0]
	assert.Equal(t, "m9", got.ID)
	assert.Equal(t, types.MessageTypeText, got.Type)
	assert.Equal(t, "hi there", got.Text)
	assert.Equal(t, "@alice", got.FromID)
	assert.Equal(t, "@me", got.ToID)

	// A room message without room identity cannot be normalized.
	fb.emit(func(l bridge.Listener) {
		l.OnMessage(webschema.RawMessage{MsgID: "m10", MsgType: webschema.MsgText, MMIsChatRoom: true, FromUserName: "@x", ToUserName: "@y"})
	})
	require.Eventually(t, func() bool { return errs.len() == 1 }, waitFor, tick)
	assert.Equal(t, types.KindPayloadMissingField, types.KindOf(errs.all()[0]))
	assert.Equal(t, 1, msgs.len())
}

func TestCloseIsIdempotent(t *testing.T) {
	p, fb := newTestPuppet(t)
	require.NoError(t, p.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, 1, fb.count("quit"))
}
