package puppet

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"sync"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/dispatch"
	"github.com/LinuxSuRen/wechaty/internal/media"
	"github.com/LinuxSuRen/wechaty/internal/normalize"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// Receiver addresses an outbound message. RoomID wins when both are set.
type Receiver struct {
	ContactID string
	RoomID    string
}

func (r Receiver) id(op string) (string, error) {
	switch {
	case r.RoomID != "":
		return r.RoomID, nil
	case r.ContactID != "":
		return r.ContactID, nil
	}
	return "", types.NewError(types.KindInvalidState, op, "receiver has neither room nor contact")
}

// Puppet is a supervised session plus the operations built on it.
type Puppet struct {
	*Supervisor
	normalizer *normalize.Normalizer
	pipeline   *media.Pipeline
	lanes      *dispatch.Queue
	client     *http.Client

	inbound   chan webschema.RawMessage
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New builds an idle puppet around b.
func New(b bridge.Bridge, cfg Config, opts ...Option) (*Puppet, error) {
	o := newOptions(opts)
	s, err := newSupervisor(b, cfg, o)
	if err != nil {
		return nil, err
	}
	client := o.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	cur := currentBridge{s}
	p := &Puppet{
		Supervisor: s,
		normalizer: normalize.New(cur, append([]normalize.Option{normalize.WithClock(o.clock)}, o.normalizeOpts...)...),
		pipeline:   media.New(cur, media.WithHTTPClient(client)),
		lanes:      dispatch.NewQueue(o.maxConcurrent),
		client:     client,
		inbound:    make(chan webschema.RawMessage, o.inboundSize),
		done:       make(chan struct{}),
	}
	s.onMessage = p.enqueue

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.lanes.Start(ctx)
	go p.consume(ctx)
	return p, nil
}

// Close stops the session and releases background workers.
func (p *Puppet) Close(ctx context.Context) error {
	err := p.Stop(ctx)
	p.closeOnce.Do(func() {
		p.cancel()
		p.lanes.Stop()
		<-p.done
	})
	return err
}

func (p *Puppet) enqueue(raw webschema.RawMessage) {
	select {
	case p.inbound <- raw:
	default:
		p.log.Warn("inbound queue full, dropping message", "msg_id", raw.MsgID)
	}
}

// consume normalizes inbound messages off the transport's event goroutine,
// since normalization calls back into the transport.
func (p *Puppet) consume(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.inbound:
			msg, err := p.normalizer.Message(ctx, raw)
			if err != nil {
				p.publishError(err)
				continue
			}
			p.events.Message.Publish(msg)
		}
	}
}

// SendText sends text to the receiver.
func (p *Puppet) SendText(ctx context.Context, to Receiver, text string) error {
	id, err := to.id("send text")
	if err != nil {
		return err
	}
	return p.lanes.Do(ctx, id, func(ctx context.Context) error {
		if err := p.Bridge().Send(ctx, id, text); err != nil {
			return types.WrapError(types.KindTransport, "send text", err)
		}
		return nil
	})
}

// SendFile uploads f and sends it to the receiver.
func (p *Puppet) SendFile(ctx context.Context, to Receiver, f media.File) error {
	id, err := to.id("send file")
	if err != nil {
		return err
	}
	from := p.UserID()
	if from == "" {
		return types.NewError(types.KindInvalidState, "send file", "no user is logged in")
	}
	return p.lanes.Do(ctx, id, func(ctx context.Context) error {
		desc, err := p.pipeline.Upload(ctx, f, from, id)
		if err != nil {
			return err
		}
		ok, err := p.Bridge().SendMedia(ctx, media.Payload(desc))
		if err != nil {
			return types.WrapError(types.KindTransport, "send file", err)
		}
		if !ok {
			return types.NewError(types.KindTransport, "send file", "transport refused %s", f.Name)
		}
		return nil
	})
}

var (
	mentionPrefix = regexp.MustCompile(`^@\w+:<br/>`)
	senderPrefix  = regexp.MustCompile(`^[\w\-]+:<br/>`)
)

// Forward re-sends a received message to the receiver.
func (p *Puppet) Forward(ctx context.Context, to Receiver, messageID string) error {
	id, err := to.id("forward")
	if err != nil {
		return err
	}
	raw, err := p.Bridge().GetMessage(ctx, messageID)
	if err != nil {
		return types.WrapError(types.KindTransport, "forward", err)
	}
	if raw.Size() >= media.LargeFileSize && raw.Signature == "" {
		return types.NewError(types.KindMediaTooLarge, "forward",
			"message %s carries %d bytes without a signature; files over 25MB cannot be forwarded", messageID, raw.Size())
	}

	isRoom := to.RoomID != ""
	patch := bridge.ForwardPatch{
		FromUserName: p.UserID(),
		ToUserName:   id,
		MMIsChatRoom: isRoom,
	}
	base := raw
	base.FromUserName = patch.FromUserName
	base.IsTranspond = true
	base.MsgIDBeforeTranspond = raw.MsgIDBeforeTranspond
	if base.MsgIDBeforeTranspond == "" {
		base.MsgIDBeforeTranspond = raw.MsgID
	}
	base.MMSourceMsgID = raw.MsgID
	base.Content = senderPrefix.ReplaceAllString(html.UnescapeString(mentionPrefix.ReplaceAllString(raw.Content, "")), "")
	base.MMIsChatRoom = isRoom

	return p.lanes.Do(ctx, id, func(ctx context.Context) error {
		if err := p.Bridge().Forward(ctx, base, patch); err != nil {
			return types.WrapError(types.KindTransport, "forward", err)
		}
		return nil
	})
}

// Message fetches and normalizes one message.
func (p *Puppet) Message(ctx context.Context, id string) (*types.Message, error) {
	raw, err := p.Bridge().GetMessage(ctx, id)
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "message", err)
	}
	return p.normalizer.Message(ctx, raw)
}

// MessageFile returns the lazy file of a media-bearing message.
func (p *Puppet) MessageFile(ctx context.Context, id string) (*types.RemoteFile, error) {
	raw, err := p.Bridge().GetMessage(ctx, id)
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "message file", err)
	}
	return p.normalizer.File(ctx, raw)
}

func (p *Puppet) Contact(ctx context.Context, id string) (*types.Contact, error) {
	raw, err := p.Bridge().GetContact(ctx, id)
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "contact", err)
	}
	return normalize.Contact(raw), nil
}

// ContactAvatar returns the contact's full-size avatar as a lazy file.
func (p *Puppet) ContactAvatar(ctx context.Context, id string) (*types.RemoteFile, error) {
	c, err := p.Contact(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Avatar == "" {
		return nil, types.NewError(types.KindPayloadMissingField, "contact avatar", "contact %s has no avatar", id)
	}
	b := p.Bridge()
	host, err := b.Hostname(ctx)
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "contact avatar", err)
	}
	if host == "" {
		return nil, types.NewError(types.KindPayloadMissingField, "contact avatar", "no hostname")
	}
	cookies, err := b.Cookies(ctx)
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "contact avatar", err)
	}
	name := c.Name
	if name == "" {
		name = "unknown"
	}
	header := http.Header{}
	header.Set("Cookie", webschema.CookieHeader(cookies))
	return &types.RemoteFile{
		Name:   name + "-avatar.jpg",
		URL:    fmt.Sprintf("http://%s%s&type=big", host, c.Avatar),
		Header: header,
	}, nil
}

// ContactAlias sets the remark name of a contact. An empty alias clears it.
func (p *Puppet) ContactAlias(ctx context.Context, id, alias string) error {
	ok, err := p.Bridge().ContactAlias(ctx, id, alias)
	if err != nil {
		return types.WrapError(types.KindTransport, "contact alias", err)
	}
	if !ok {
		return types.NewError(types.KindTransport, "contact alias", "transport refused alias for %s", id)
	}
	return nil
}

func (p *Puppet) ContactFindAll(ctx context.Context, q normalize.ContactQuery) ([]string, error) {
	pred, err := q.Predicate()
	if err != nil {
		return nil, err
	}
	ids, err := p.Bridge().ContactFind(ctx, pred)
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "contact find", err)
	}
	return ids, nil
}

func (p *Puppet) Room(ctx context.Context, id string) (*types.Room, error) {
	return p.normalizer.LoadRoom(ctx, id)
}

func (p *Puppet) RoomFindAll(ctx context.Context, q normalize.RoomQuery) ([]string, error) {
	ids, err := p.Bridge().RoomFind(ctx, q.Predicate())
	if err != nil {
		return nil, types.WrapError(types.KindTransport, "room find", err)
	}
	return ids, nil
}

func (p *Puppet) RoomAdd(ctx context.Context, roomID, contactID string) error {
	if err := p.Bridge().RoomAddMember(ctx, roomID, contactID); err != nil {
		return types.WrapError(types.KindTransport, "room add", err)
	}
	return nil
}

func (p *Puppet) RoomDel(ctx context.Context, roomID, contactID string) error {
	if err := p.Bridge().RoomDelMember(ctx, roomID, contactID); err != nil {
		return types.WrapError(types.KindTransport, "room del", err)
	}
	return nil
}

func (p *Puppet) RoomTopic(ctx context.Context, roomID, topic string) error {
	if err := p.Bridge().RoomModTopic(ctx, roomID, topic); err != nil {
		return types.WrapError(types.KindTransport, "room topic", err)
	}
	return nil
}

// RoomCreate creates a room with the given members and returns its id.
func (p *Puppet) RoomCreate(ctx context.Context, contactIDs []string, topic string) (string, error) {
	id, err := p.Bridge().RoomCreate(ctx, contactIDs, topic)
	if err != nil {
		return "", types.WrapError(types.KindTransport, "room create", err)
	}
	if id == "" {
		return "", types.NewError(types.KindTransport, "room create", "transport returned no room id")
	}
	return id, nil
}

// RoomQuit is not supported by the web protocol and does nothing.
func (p *Puppet) RoomQuit(_ context.Context, roomID string) error {
	p.log.Warn("room quit is not supported", "room_id", roomID)
	return nil
}

func (p *Puppet) FriendRequestSend(ctx context.Context, contactID, hello string) error {
	if err := p.Bridge().VerifyUserRequest(ctx, contactID, hello); err != nil {
		return types.WrapError(types.KindTransport, "friend request send", err)
	}
	return nil
}

func (p *Puppet) FriendRequestAccept(ctx context.Context, contactID, ticket string) error {
	if err := p.Bridge().VerifyUserOk(ctx, contactID, ticket); err != nil {
		return types.WrapError(types.KindTransport, "friend request accept", err)
	}
	return nil
}

// currentBridge resolves the transport on every call so normalization and
// uploads follow a bridge replaced by hard recovery.
type currentBridge struct{ s *Supervisor }

func (c currentBridge) GetContact(ctx context.Context, id string) (webschema.RawContact, error) {
	return c.s.Bridge().GetContact(ctx, id)
}

func (c currentBridge) GetRoom(ctx context.Context, id string) (webschema.RawRoom, error) {
	return c.s.Bridge().GetRoom(ctx, id)
}

func (c currentBridge) MediaURL(ctx context.Context, msgID string, kind bridge.MediaKind) (string, error) {
	return c.s.Bridge().MediaURL(ctx, msgID, kind)
}

func (c currentBridge) Cookies(ctx context.Context) ([]webschema.Cookie, error) {
	return c.s.Bridge().Cookies(ctx)
}

func (c currentBridge) Hostname(ctx context.Context) (string, error) {
	return c.s.Bridge().Hostname(ctx)
}

func (c currentBridge) PassTicket(ctx context.Context) (string, error) {
	return c.s.Bridge().PassTicket(ctx)
}

func (c currentBridge) BaseRequest(ctx context.Context) (json.RawMessage, error) {
	return c.s.Bridge().BaseRequest(ctx)
}

func (c currentBridge) UploadMediaURL(ctx context.Context) (string, error) {
	return c.s.Bridge().UploadMediaURL(ctx)
}

func (c currentBridge) CheckUploadURL(ctx context.Context) (string, error) {
	return c.s.Bridge().CheckUploadURL(ctx)
}
