package channel

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"msgfilter/internal/domain"

	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

func testChannelLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeForwarder struct {
	reqs []*tg.MessagesForwardMessagesRequest
	err  error
}

func (f *fakeForwarder) MessagesForwardMessages(ctx context.Context, req *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error) {
	f.reqs = append(f.reqs, req)
	return &tg.Updates{}, f.err
}

// captureBus collects published messages.
type captureBus struct {
	msgs []domain.InboundMessage
}

func (b *captureBus) Publish(msg domain.InboundMessage) { b.msgs = append(b.msgs, msg) }
func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (b *captureBus) Close() {}

func TestMarkedChatID(t *testing.T) {
	tests := []struct {
		peer tg.PeerClass
		want int64
	}{
		{&tg.PeerUser{UserID: 777}, 777},
		{&tg.PeerChat{ChatID: 4242}, -4242},
		{&tg.PeerChannel{ChannelID: 1234567890}, -1001234567890},
	}
	for _, tt := range tests {
		got, ok := markedChatID(tt.peer)
		if !ok || got != tt.want {
			t.Errorf("markedChatID(%v) = %d, %v; want %d", tt.peer, got, ok, tt.want)
		}
	}
	if _, ok := markedChatID(nil); ok {
		t.Error("nil peer should not resolve")
	}
}

func TestMarkedInputID(t *testing.T) {
	id, ok := markedInputID(&tg.InputPeerChannel{ChannelID: 1234567890, AccessHash: 1})
	if !ok || id != -1001234567890 {
		t.Errorf("unexpected %d %v", id, ok)
	}
	if _, ok := markedInputID(&tg.InputPeerSelf{}); ok {
		t.Error("self peer has no chat ID")
	}
}

func newTestMTProto() *MTProto {
	return NewMTProto(MTProtoConfig{APIID: 1, APIHash: "hash", Logger: testChannelLogger()})
}

func TestHandleMessage_PublishesAndForwards(t *testing.T) {
	m := newTestMTProto()
	api := &fakeForwarder{}
	m.setAPI(api)
	m.rememberInput(&tg.InputPeerChannel{ChannelID: 2222222222, AccessHash: 99})

	e := tg.Entities{Channels: map[int64]*tg.Channel{
		1111111111: {ID: 1111111111, AccessHash: 11},
	}}
	b := &captureBus{}
	m.handleMessage(e, &tg.Message{
		ID:      55,
		PeerID:  &tg.PeerChannel{ChannelID: 1111111111},
		Message: "✅ RIO: VISTO",
		Date:    1700000000,
	}, b)

	if len(b.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(b.msgs))
	}
	msg := b.msgs[0]
	if msg.ChatID != -1001111111111 || msg.MessageID != 55 || msg.Text != "✅ RIO: VISTO" {
		t.Errorf("unexpected message %+v", msg)
	}

	if err := msg.Forward(context.Background(), -1002222222222); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(api.reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(api.reqs))
	}
	req := api.reqs[0]
	from, ok := req.FromPeer.(*tg.InputPeerChannel)
	if !ok || from.ChannelID != 1111111111 || from.AccessHash != 11 {
		t.Errorf("unexpected from peer %#v", req.FromPeer)
	}
	to, ok := req.ToPeer.(*tg.InputPeerChannel)
	if !ok || to.ChannelID != 2222222222 || to.AccessHash != 99 {
		t.Errorf("unexpected to peer %#v", req.ToPeer)
	}
	if len(req.ID) != 1 || req.ID[0] != 55 || len(req.RandomID) != 1 {
		t.Errorf("unexpected ids %v %v", req.ID, req.RandomID)
	}
}

func TestHandleMessage_IgnoresServiceMessages(t *testing.T) {
	m := newTestMTProto()
	b := &captureBus{}
	m.handleMessage(tg.Entities{}, &tg.MessageService{ID: 1, PeerID: &tg.PeerChat{ChatID: 1}}, b)
	m.handleMessage(tg.Entities{}, &tg.MessageEmpty{ID: 2}, b)
	if len(b.msgs) != 0 {
		t.Errorf("expected nothing published, got %d", len(b.msgs))
	}
}

func TestForward_UnknownDestination(t *testing.T) {
	m := newTestMTProto()
	api := &fakeForwarder{}
	m.setAPI(api)

	fwd := m.forwardFunc(-4242, &tg.InputPeerChat{ChatID: 4242}, 1)
	if err := fwd(context.Background(), -1009999999999); err == nil {
		t.Fatal("expected error for unknown destination")
	}
	if len(api.reqs) != 0 {
		t.Error("no request should be sent")
	}
}

func TestForward_UnknownSource(t *testing.T) {
	m := newTestMTProto()
	m.setAPI(&fakeForwarder{})
	if err := m.forwardFunc(-4242, nil, 1)(context.Background(), 1); err == nil {
		t.Fatal("expected error for unresolvable source")
	}
}

func TestForward_APIError(t *testing.T) {
	m := newTestMTProto()
	api := &fakeForwarder{err: errors.New("CHAT_WRITE_FORBIDDEN")}
	m.setAPI(api)
	m.rememberInput(&tg.InputPeerUser{UserID: 10, AccessHash: 1})

	err := m.forwardFunc(-1, &tg.InputPeerChat{ChatID: 1}, 3)(context.Background(), 10)
	if !errors.Is(err, api.err) {
		t.Fatalf("expected wrapped API error, got %v", err)
	}
}

func TestForward_NotConnected(t *testing.T) {
	m := newTestMTProto()
	m.rememberInput(&tg.InputPeerUser{UserID: 10, AccessHash: 1})
	if err := m.forwardFunc(-1, &tg.InputPeerChat{ChatID: 1}, 3)(context.Background(), 10); err == nil {
		t.Fatal("expected error before connect")
	}
}

func TestRememberEntities(t *testing.T) {
	m := newTestMTProto()
	m.rememberEntities(tg.Entities{
		Users:    map[int64]*tg.User{5: {ID: 5, AccessHash: 50}},
		Chats:    map[int64]*tg.Chat{6: {ID: 6}},
		Channels: map[int64]*tg.Channel{7: {ID: 7, AccessHash: 70}},
	})
	for _, id := range []int64{5, -6, -1000000000007} {
		if _, ok := m.lookup(id); !ok {
			t.Errorf("expected peer %d to be known", id)
		}
	}
	if m.knownPeers() != 3 {
		t.Errorf("expected 3 peers, got %d", m.knownPeers())
	}
}

func TestRememberEntities_SkipsMinEntities(t *testing.T) {
	m := newTestMTProto()
	m.setAPI(&fakeForwarder{})
	m.rememberInput(&tg.InputPeerChannel{ChannelID: 2222222222, AccessHash: 99})
	m.rememberInput(&tg.InputPeerUser{UserID: 10, AccessHash: 100})

	b := &captureBus{}
	m.handleMessage(tg.Entities{
		Users: map[int64]*tg.User{
			10: {ID: 10, AccessHash: 1, Min: true},
			11: {ID: 11, AccessHash: 2, Min: true},
		},
		Channels: map[int64]*tg.Channel{
			1111111111: {ID: 1111111111, AccessHash: 11},
			2222222222: {ID: 2222222222, AccessHash: 5, Min: true},
		},
	}, &tg.Message{
		ID:      56,
		PeerID:  &tg.PeerChannel{ChannelID: 1111111111},
		Message: "fwd",
	}, b)

	p, ok := m.lookup(-1002222222222)
	if !ok {
		t.Fatal("dialog peer lost")
	}
	if ch := p.(*tg.InputPeerChannel); ch.AccessHash != 99 {
		t.Errorf("dialog access hash replaced by min entity: %d", ch.AccessHash)
	}
	p, _ = m.lookup(10)
	if u := p.(*tg.InputPeerUser); u.AccessHash != 100 {
		t.Errorf("user access hash replaced by min entity: %d", u.AccessHash)
	}
	if _, ok := m.lookup(11); ok {
		t.Error("min user should not be cached")
	}
	if _, ok := m.lookup(-1001111111111); !ok {
		t.Error("full channel entity should be cached")
	}
}

func TestClientOptions_HooksRPCUpdates(t *testing.T) {
	m := newTestMTProto()
	gaps := updates.New(updates.Config{Handler: tg.NewUpdateDispatcher()})

	opts := m.clientOptions(gaps)
	if opts.UpdateHandler != gaps {
		t.Error("pushed updates should go to the gap manager")
	}
	if len(opts.Middlewares) != 1 {
		t.Fatalf("expected the update hook middleware, got %d middlewares", len(opts.Middlewares))
	}
}

func TestMaskPhone(t *testing.T) {
	if got := maskPhone("+5541999991234"); got != "***1234" {
		t.Errorf("unexpected %q", got)
	}
	if got := maskPhone("123"); got != "***" {
		t.Errorf("unexpected %q", got)
	}
}
