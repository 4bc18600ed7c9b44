package normalize

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// RoomPayload polls the transport until two consecutive reads report the
// same non-zero member count. When the budget runs out the last payload is
// returned as is, possibly incomplete.
func (n *Normalizer) RoomPayload(ctx context.Context, id string) (webschema.RawRoom, error) {
	var last webschema.RawRoom
	prev := -1
	for attempt := 1; attempt <= n.stableAttempts; attempt++ {
		raw, err := n.transport.GetRoom(ctx, id)
		if err != nil {
			return last, types.WrapError(types.KindTransport, "room payload", err)
		}
		last = raw
		curr := len(raw.MemberList)
		if curr > 0 && curr == prev {
			n.log.Debug("room stable", "room_id", id, "members", curr, "attempt", attempt)
			return raw, nil
		}
		prev = curr
		if attempt == n.stableAttempts {
			break
		}
		select {
		case <-n.clock.After(n.stableInterval):
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
	n.log.Warn("room member list not stable, using last payload",
		"room_id", id, "members", len(last.MemberList), "attempts", n.stableAttempts)
	return last, nil
}

// Room normalizes a raw room. Member contacts are resolved in parallel.
func (n *Normalizer) Room(ctx context.Context, raw webschema.RawRoom) (*types.Room, error) {
	room := &types.Room{
		ID:              raw.UserName,
		Topic:           PlainText(raw.NickName),
		MemberIDs:       make([]string, 0, len(raw.MemberList)),
		NameMap:         make(map[string]string, len(raw.MemberList)),
		RoomAliasMap:    make(map[string]string, len(raw.MemberList)),
		ContactAliasMap: make(map[string]string, len(raw.MemberList)),
	}
	for _, m := range raw.MemberList {
		room.MemberIDs = append(room.MemberIDs, m.UserName)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if n.memberConcurrency > 0 {
		g.SetLimit(n.memberConcurrency)
	}
	for _, m := range raw.MemberList {
		g.Go(func() error {
			rc, err := n.transport.GetContact(gctx, m.UserName)
			if err != nil {
				return types.WrapError(types.KindTransport, "room member "+m.UserName, err)
			}
			c := Contact(rc)
			name := c.Name
			if name == "" {
				name = m.NickName
			}

			mu.Lock()
			defer mu.Unlock()
			if v := StripDecorations(name); v != "" {
				room.NameMap[m.UserName] = v
			}
			if v := StripDecorations(m.DisplayName); v != "" {
				room.RoomAliasMap[m.UserName] = v
			}
			if v := StripDecorations(c.Alias); v != "" {
				room.ContactAliasMap[m.UserName] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return room, nil
}

// LoadRoom fetches a stable payload and normalizes it.
func (n *Normalizer) LoadRoom(ctx context.Context, id string) (*types.Room, error) {
	raw, err := n.RoomPayload(ctx, id)
	if err != nil {
		return nil, err
	}
	return n.Room(ctx, raw)
}
