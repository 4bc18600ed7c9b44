package wsrpc

import (
	"context"
	"encoding/json"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

func (c *Client) Cookies(ctx context.Context) ([]webschema.Cookie, error) {
	var out []webschema.Cookie
	err := c.call(ctx, "cookies", nil, &out)
	return out, err
}

func (c *Client) Hostname(ctx context.Context) (string, error) {
	return c.callString(ctx, "hostname", nil)
}

func (c *Client) PassTicket(ctx context.Context) (string, error) {
	return c.callString(ctx, "passTicket", nil)
}

func (c *Client) BaseRequest(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, "baseRequest", nil, &out)
	return out, err
}

func (c *Client) UploadMediaURL(ctx context.Context) (string, error) {
	return c.callString(ctx, "uploadMediaUrl", nil)
}

func (c *Client) CheckUploadURL(ctx context.Context) (string, error) {
	return c.callString(ctx, "checkUploadUrl", nil)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "logout", nil, nil)
}

func (c *Client) Ding(ctx context.Context, data string) error {
	return c.call(ctx, "ding", map[string]string{"data": data}, nil)
}

func (c *Client) GetMessage(ctx context.Context, id string) (webschema.RawMessage, error) {
	var out webschema.RawMessage
	err := c.call(ctx, "getMessage", map[string]string{"id": id}, &out)
	return out, err
}

func (c *Client) GetContact(ctx context.Context, id string) (webschema.RawContact, error) {
	var out webschema.RawContact
	err := c.call(ctx, "getContact", map[string]string{"id": id}, &out)
	return out, err
}

func (c *Client) GetRoom(ctx context.Context, id string) (webschema.RawRoom, error) {
	var out webschema.RawRoom
	err := c.call(ctx, "getRoom", map[string]string{"id": id}, &out)
	return out, err
}

func (c *Client) MediaURL(ctx context.Context, msgID string, kind bridge.MediaKind) (string, error) {
	return c.callString(ctx, "mediaUrl", map[string]string{"msgId": msgID, "kind": string(kind)})
}

func (c *Client) ContactFind(ctx context.Context, p bridge.Predicate) ([]string, error) {
	return c.find(ctx, "contactFind", p)
}

func (c *Client) RoomFind(ctx context.Context, p bridge.Predicate) ([]string, error) {
	return c.find(ctx, "roomFind", p)
}

func (c *Client) find(ctx context.Context, method string, p bridge.Predicate) ([]string, error) {
	script, err := p.Script()
	if err != nil {
		return nil, err
	}
	var out []string
	err = c.call(ctx, method, map[string]any{"predicate": p, "filter": script}, &out)
	return out, err
}

func (c *Client) ContactAlias(ctx context.Context, contactID, alias string) (bool, error) {
	var ok bool
	err := c.call(ctx, "contactAlias", map[string]string{"contactId": contactID, "alias": alias}, &ok)
	return ok, err
}

func (c *Client) RoomAddMember(ctx context.Context, roomID, contactID string) error {
	return c.call(ctx, "roomAddMember", map[string]string{"roomId": roomID, "contactId": contactID}, nil)
}

func (c *Client) RoomDelMember(ctx context.Context, roomID, contactID string) error {
	return c.call(ctx, "roomDelMember", map[string]string{"roomId": roomID, "contactId": contactID}, nil)
}

func (c *Client) RoomModTopic(ctx context.Context, roomID, topic string) error {
	return c.call(ctx, "roomModTopic", map[string]string{"roomId": roomID, "topic": topic}, nil)
}

func (c *Client) RoomCreate(ctx context.Context, contactIDs []string, topic string) (string, error) {
	return c.callString(ctx, "roomCreate", map[string]any{"contactIdList": contactIDs, "topic": topic})
}

func (c *Client) VerifyUserRequest(ctx context.Context, contactID, hello string) error {
	return c.call(ctx, "verifyUserRequest", map[string]string{"contactId": contactID, "hello": hello}, nil)
}

func (c *Client) VerifyUserOk(ctx context.Context, contactID, ticket string) error {
	return c.call(ctx, "verifyUserOk", map[string]string{"contactId": contactID, "ticket": ticket}, nil)
}

func (c *Client) Send(ctx context.Context, toUserName, text string) error {
	return c.call(ctx, "send", map[string]string{"to": toUserName, "text": text}, nil)
}

func (c *Client) SendMedia(ctx context.Context, payload webschema.MediaPayload) (bool, error) {
	var ok bool
	err := c.call(ctx, "sendMedia", payload, &ok)
	return ok, err
}

func (c *Client) Forward(ctx context.Context, base webschema.RawMessage, patch bridge.ForwardPatch) error {
	return c.call(ctx, "forward", map[string]any{"base": base, "patch": patch}, nil)
}

func (c *Client) callString(ctx context.Context, method string, params any) (string, error) {
	var out string
	err := c.call(ctx, method, params, &out)
	return out, err
}
