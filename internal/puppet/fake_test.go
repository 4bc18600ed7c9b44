package puppet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

type forwardCall struct {
	base  webschema.RawMessage
	patch bridge.ForwardPatch
}

type sentText struct {
	to, text string
}

// fakeBridge records every call. Init, Quit and Reload pop their next
// error from the matching queue; an empty queue means success.
type fakeBridge struct {
	mu        sync.Mutex
	calls     map[string]int
	listeners []bridge.Listener

	initErrs   []error
	quitErrs   []error
	reloadErrs []error
	logoutErr  error
	sendErr    error
	// initBlock, when set, holds Init until Quit is called.
	initBlock chan struct{}
	initSeen  chan struct{}
	// reloadBlock, when set, holds Reload until it is closed.
	reloadBlock chan struct{}
	reloadSeen  chan struct{}

	cookies      []webschema.Cookie
	hostname     string
	uploadURL    string
	contactSizes []int
	messages     map[string]webschema.RawMessage
	contacts     map[string]webschema.RawContact
	rooms        map[string]webschema.RawRoom
	roomCreateID string
	sendMediaOK  bool

	sent      []sentText
	media     []webschema.MediaPayload
	forwards  []forwardCall
	lastFind  bridge.Predicate
	aliasSet  map[string]string
	dingsSent []string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		calls:       map[string]int{},
		cookies:     []webschema.Cookie{{Name: "webwx_data_ticket", Value: "ticket"}, {Name: "wxuin", Value: "42"}},
		hostname:    "wx.qq.com",
		messages:    map[string]webschema.RawMessage{},
		contacts:    map[string]webschema.RawContact{},
		rooms:       map[string]webschema.RawRoom{},
		sendMediaOK: true,
		aliasSet:    map[string]string{},
	}
}

func (f *fakeBridge) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBridge) hit(name string) {
	f.calls[name]++
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (f *fakeBridge) attached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// emit delivers an event to every attached listener, as the transport would.
func (f *fakeBridge) emit(fn func(bridge.Listener)) {
	f.mu.Lock()
	ls := append([]bridge.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

func (f *fakeBridge) Init(ctx context.Context) error {
	f.mu.Lock()
	f.hit("init")
	err := pop(&f.initErrs)
	block, seen := f.initBlock, f.initSeen
	f.mu.Unlock()
	if seen != nil {
		close(seen)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeBridge) Quit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("quit")
	if f.initBlock != nil {
		close(f.initBlock)
		f.initBlock = nil
	}
	return pop(&f.quitErrs)
}

func (f *fakeBridge) Reload(ctx context.Context) error {
	f.mu.Lock()
	f.hit("reload")
	err := pop(&f.reloadErrs)
	block, seen := f.reloadBlock, f.reloadSeen
	f.reloadSeen = nil
	f.mu.Unlock()
	if seen != nil {
		close(seen)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeBridge) Attach(l bridge.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("attach")
	f.listeners = append(f.listeners, l)
}

func (f *fakeBridge) Detach(l bridge.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("detach")
	for i, cur := range f.listeners {
		if cur == l {
			f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *fakeBridge) Cookies(context.Context) ([]webschema.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("cookies")
	return append([]webschema.Cookie(nil), f.cookies...), nil
}

func (f *fakeBridge) Hostname(context.Context) (string, error) { return f.hostname, nil }

func (f *fakeBridge) PassTicket(context.Context) (string, error) { return "pass", nil }

func (f *fakeBridge) BaseRequest(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"BaseRequest":{"Uin":42,"Sid":"sid"}}`), nil
}

func (f *fakeBridge) UploadMediaURL(context.Context) (string, error) { return f.uploadURL, nil }

func (f *fakeBridge) CheckUploadURL(context.Context) (string, error) { return "/check", nil }

func (f *fakeBridge) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("logout")
	return f.logoutErr
}

func (f *fakeBridge) Ding(_ context.Context, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("ding")
	f.dingsSent = append(f.dingsSent, data)
	return nil
}

func (f *fakeBridge) GetMessage(_ context.Context, id string) (webschema.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return webschema.RawMessage{}, errors.New("no such message")
	}
	return m, nil
}

func (f *fakeBridge) GetContact(_ context.Context, id string) (webschema.RawContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts[id], nil
}

func (f *fakeBridge) GetRoom(_ context.Context, id string) (webschema.RawRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[id], nil
}

func (f *fakeBridge) MediaURL(_ context.Context, msgID string, kind bridge.MediaKind) (string, error) {
	return "https://" + f.hostname + "/media/" + string(kind) + "/" + msgID, nil
}

func (f *fakeBridge) ContactFind(_ context.Context, p bridge.Predicate) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("contactFind")
	f.lastFind = p
	n := 0
	if len(f.contactSizes) > 0 {
		n = f.contactSizes[0]
		if len(f.contactSizes) > 1 {
			f.contactSizes = f.contactSizes[1:]
		}
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "@c" + string(rune('a'+i%26))
	}
	return ids, nil
}

func (f *fakeBridge) RoomFind(_ context.Context, p bridge.Predicate) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFind = p
	return []string{"@@r1"}, nil
}

func (f *fakeBridge) ContactAlias(_ context.Context, contactID, alias string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliasSet[contactID] = alias
	return true, nil
}

func (f *fakeBridge) RoomAddMember(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("roomAdd")
	return nil
}

func (f *fakeBridge) RoomDelMember(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("roomDel")
	return nil
}

func (f *fakeBridge) RoomModTopic(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("roomTopic")
	return nil
}

func (f *fakeBridge) RoomCreate(context.Context, []string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomCreateID, nil
}

func (f *fakeBridge) VerifyUserRequest(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("verifyRequest")
	return nil
}

func (f *fakeBridge) VerifyUserOk(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("verifyOk")
	return nil
}

func (f *fakeBridge) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentText{to: to, text: text})
	return nil
}

func (f *fakeBridge) SendMedia(_ context.Context, p webschema.MediaPayload) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, p)
	return f.sendMediaOK, nil
}

func (f *fakeBridge) Forward(_ context.Context, base webschema.RawMessage, patch bridge.ForwardPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, forwardCall{base: base, patch: patch})
	return nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saves [][]webschema.Cookie
}

func (s *fakeSaver) SaveCookies(_ context.Context, cookies []webschema.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, cookies)
	return nil
}

func (s *fakeSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

// recorder collects values published on a bus.
type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}
