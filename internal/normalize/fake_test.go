package normalize

import (
	"context"
	"errors"
	"sync"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

type fakeTransport struct {
	mu        sync.Mutex
	contacts  map[string]webschema.RawContact
	rooms     []webschema.RawRoom
	roomCalls int
	roomFn    func(call int) webschema.RawRoom
	media     map[bridge.MediaKind]string
	cookies   []webschema.Cookie
	failRoom  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		contacts: map[string]webschema.RawContact{},
		media:    map[bridge.MediaKind]string{},
	}
}

func (f *fakeTransport) GetContact(_ context.Context, id string) (webschema.RawContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return webschema.RawContact{}, errors.New("no such contact " + id)
	}
	return c, nil
}

func (f *fakeTransport) GetRoom(_ context.Context, id string) (webschema.RawRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoom != nil {
		return webschema.RawRoom{}, f.failRoom
	}
	f.roomCalls++
	if f.roomFn != nil {
		return f.roomFn(f.roomCalls), nil
	}
	i := f.roomCalls - 1
	if i >= len(f.rooms) {
		i = len(f.rooms) - 1
	}
	return f.rooms[i], nil
}

func (f *fakeTransport) MediaURL(_ context.Context, _ string, kind bridge.MediaKind) (string, error) {
	return f.media[kind], nil
}

func (f *fakeTransport) Cookies(context.Context) ([]webschema.Cookie, error) {
	return f.cookies, nil
}

func members(n int) []webschema.RawMember {
	out := make([]webschema.RawMember, n)
	for i := range out {
		out[i] = webschema.RawMember{UserName: "@m" + string(rune('a'+i))}
	}
	return out
}
