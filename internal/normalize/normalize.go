// Package normalize turns raw transport payloads into canonical records.
//
// The Normalizer holds configuration only. Every call borrows the raw data
// it is given and asks the transport for whatever else it needs.
package normalize

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

const (
	DefaultStableAttempts    = 7
	DefaultStableInterval    = time.Second
	DefaultMemberConcurrency = 16
)

// Transport is the slice of the bridge the normalizer reads from.
type Transport interface {
	GetContact(ctx context.Context, id string) (webschema.RawContact, error)
	GetRoom(ctx context.Context, id string) (webschema.RawRoom, error)
	MediaURL(ctx context.Context, msgID string, kind bridge.MediaKind) (string, error)
	Cookies(ctx context.Context) ([]webschema.Cookie, error)
}

type Option func(*Normalizer)

func WithClock(c clockwork.Clock) Option {
	return func(n *Normalizer) { n.clock = c }
}

// WithStabilization overrides the room polling budget.
func WithStabilization(attempts int, interval time.Duration) Option {
	return func(n *Normalizer) {
		if attempts > 0 {
			n.stableAttempts = attempts
		}
		n.stableInterval = interval
	}
}

func WithMemberConcurrency(limit int) Option {
	return func(n *Normalizer) { n.memberConcurrency = limit }
}

type Normalizer struct {
	transport         Transport
	clock             clockwork.Clock
	stableAttempts    int
	stableInterval    time.Duration
	memberConcurrency int
	log               *slog.Logger
}

func New(t Transport, opts ...Option) *Normalizer {
	n := &Normalizer{
		transport:         t,
		clock:             clockwork.NewRealClock(),
		stableAttempts:    DefaultStableAttempts,
		stableInterval:    DefaultStableInterval,
		memberConcurrency: DefaultMemberConcurrency,
		log:               slog.With("component", "normalize"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// UserAgent is sent with every media fetch.
const UserAgent = "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/50.0.2661.102 Safari/537.36"

// FileHeader builds the access headers needed to fetch rawURL later.
func FileHeader(host, rawURL string, cookies []webschema.Cookie) http.Header {
	h := http.Header{}
	h.Set("User-Agent", UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Host", host)
	h.Set("Referer", rawURL)
	h.Set("Range", "bytes=0-")
	h.Set("Accept-Encoding", "identity;q=1, *;q=0")
	h.Set("Accept-Language", "zh-CN,zh;q=0.8")
	h.Set("Cookie", webschema.CookieHeader(cookies))
	return h
}
