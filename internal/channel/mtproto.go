package channel

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"msgfilter/internal/domain"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/telegram/updates"
	updhook "github.com/gotd/td/telegram/updates/hook"
	"github.com/gotd/td/tg"
)

// channelIDOffset turns a channel ID into its marked form: -100<id>.
const channelIDOffset int64 = 1_000_000_000_000

const dialogsBatchSize = 100

// ErrCodeRequired is returned when a login code is needed but no prompt is set.
var ErrCodeRequired = errors.New("login code required but no code prompt configured")

// messageForwarder is the part of *tg.Client used to forward messages.
type messageForwarder interface {
	MessagesForwardMessages(ctx context.Context, req *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error)
}

// CodePrompt asks the user for the login code Telegram just sent.
type CodePrompt func(ctx context.Context) (string, error)

// MTProto implements domain.Channel as a Telegram user account, the same way
// official clients connect. It sees every chat the account is a member of.
type MTProto struct {
	apiID      int
	apiHash    string
	phone      string
	password   string
	storage    session.Storage
	codePrompt CodePrompt
	logger     *slog.Logger

	mu    sync.RWMutex
	api   messageForwarder
	peers map[int64]tg.InputPeerClass // marked chat ID -> input peer
}

type MTProtoConfig struct {
	APIID      int
	APIHash    string
	Phone      string // only needed for the first login
	Password   string // two-step verification password, if enabled
	Storage    session.Storage
	CodePrompt CodePrompt
	Logger     *slog.Logger
}

func NewMTProto(cfg MTProtoConfig) *MTProto {
	return &MTProto{
		apiID:      cfg.APIID,
		apiHash:    cfg.APIHash,
		phone:      cfg.Phone,
		password:   cfg.Password,
		storage:    cfg.Storage,
		codePrompt: cfg.CodePrompt,
		logger:     cfg.Logger,
		peers:      make(map[int64]tg.InputPeerClass),
	}
}

func (m *MTProto) Name() string { return "telegram-mtproto" }

// Start authenticates (reusing the stored session when there is one), loads
// the dialog list so destination peers can be resolved, and then delivers
// new messages to bus until ctx is cancelled.
func (m *MTProto) Start(ctx context.Context, bus domain.MessageBus) error {
	dispatcher := tg.NewUpdateDispatcher()
	gaps := updates.New(updates.Config{Handler: dispatcher})

	client := telegram.NewClient(m.apiID, m.apiHash, m.clientOptions(gaps))

	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		m.handleMessage(e, u.Message, bus)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		m.handleMessage(e, u.Message, bus)
		return nil
	})

	err := client.Run(ctx, func(ctx context.Context) error {
		if err := m.authenticate(ctx, client); err != nil {
			return err
		}

		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}
		api := client.API()
		m.setAPI(api)

		if err := m.loadDialogs(ctx, api); err != nil {
			m.logger.Warn("cannot load dialogs, destination must appear in updates first", "err", err)
		}

		return gaps.Run(ctx, api, self.ID, updates.AuthOptions{
			IsBot: self.Bot,
			OnStart: func(ctx context.Context) {
				m.logger.Info("telegram client started",
					"user_id", self.ID,
					"username", self.Username,
					"known_chats", m.knownPeers(),
				)
			},
		})
	})
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		m.logger.Info("telegram channel stopping")
		return nil
	}
	return err
}

// clientOptions routes both pushed updates and updates returned by RPC calls
// (such as forwardMessages) through the gap manager.
func (m *MTProto) clientOptions(gaps *updates.Manager) telegram.Options {
	return telegram.Options{
		SessionStorage: m.storage,
		UpdateHandler:  gaps,
		Middlewares: []telegram.Middleware{
			updhook.UpdateHook(gaps.Handle),
		},
	}
}

// Stop is a no-op; the client stops when Start's context is cancelled.
func (m *MTProto) Stop() error {
	return nil
}

func (m *MTProto) authenticate(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		m.logger.Info("reusing stored telegram session")
		return nil
	}
	if m.phone == "" {
		return errors.New("no stored session and TG_PHONE is not set")
	}

	m.logger.Info("logging in to telegram", "phone", maskPhone(m.phone))
	codeAuth := auth.CodeAuthenticatorFunc(func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
		if m.codePrompt == nil {
			return "", ErrCodeRequired
		}
		return m.codePrompt(ctx)
	})
	flow := auth.NewFlow(auth.Constant(m.phone, m.password, codeAuth), auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}
	return nil
}

func (m *MTProto) loadDialogs(ctx context.Context, api *tg.Client) error {
	return query.GetDialogs(api).BatchSize(dialogsBatchSize).ForEach(ctx, func(ctx context.Context, elem dialogs.Elem) error {
		m.rememberInput(elem.Peer)
		return nil
	})
}

func (m *MTProto) handleMessage(e tg.Entities, mc tg.MessageClass, bus domain.MessageBus) {
	msg, ok := mc.(*tg.Message)
	if !ok {
		return
	}
	m.rememberEntities(e)

	chatID, ok := markedChatID(msg.PeerID)
	if !ok {
		return
	}
	from, _ := m.lookup(chatID)

	bus.Publish(domain.InboundMessage{
		Channel:   m.Name(),
		ChatID:    chatID,
		MessageID: msg.ID,
		Text:      msg.Message,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Forward:   m.forwardFunc(chatID, from, msg.ID),
	})
}

func (m *MTProto) forwardFunc(fromChatID int64, from tg.InputPeerClass, messageID int) domain.ForwardFunc {
	return func(ctx context.Context, toChatID int64) error {
		if from == nil {
			return fmt.Errorf("source chat %d is not resolvable", fromChatID)
		}
		to, ok := m.lookup(toChatID)
		if !ok {
			return fmt.Errorf("destination chat %d not found among the account's dialogs", toChatID)
		}
		m.mu.RLock()
		api := m.api
		m.mu.RUnlock()
		if api == nil {
			return errors.New("telegram client not connected")
		}

		_, err := api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer: from,
			ID:       []int{messageID},
			RandomID: []int64{randomID()},
			ToPeer:   to,
		})
		if err != nil {
			return fmt.Errorf("forward message %d from %d to %d: %w", messageID, fromChatID, toChatID, err)
		}
		return nil
	}
}

func (m *MTProto) setAPI(api messageForwarder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.api = api
}

func (m *MTProto) lookup(chatID int64) (tg.InputPeerClass, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[chatID]
	return p, ok
}

func (m *MTProto) knownPeers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

func (m *MTProto) rememberInput(p tg.InputPeerClass) {
	id, ok := markedInputID(p)
	if !ok {
		return
	}
	m.mu.Lock()
	m.peers[id] = p
	m.mu.Unlock()
}

// rememberEntities caches the access hashes that arrive with an update. Min
// entities carry a hash that is not valid for this account and are skipped.
func (m *MTProto) rememberEntities(e tg.Entities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range e.Users {
		if u.Min {
			continue
		}
		m.peers[id] = &tg.InputPeerUser{UserID: id, AccessHash: u.AccessHash}
	}
	for id := range e.Chats {
		m.peers[-id] = &tg.InputPeerChat{ChatID: id}
	}
	for id, c := range e.Channels {
		if c.Min {
			continue
		}
		m.peers[-(channelIDOffset + id)] = &tg.InputPeerChannel{ChannelID: id, AccessHash: c.AccessHash}
	}
}

// markedChatID returns the chat ID clients show for a peer: users as is,
// basic groups negated, channels and supergroups as -100<id>.
func markedChatID(p tg.PeerClass) (int64, bool) {
	switch p := p.(type) {
	case *tg.PeerUser:
		return p.UserID, true
	case *tg.PeerChat:
		return -p.ChatID, true
	case *tg.PeerChannel:
		return -(channelIDOffset + p.ChannelID), true
	default:
		return 0, false
	}
}

func markedInputID(p tg.InputPeerClass) (int64, bool) {
	switch p := p.(type) {
	case *tg.InputPeerUser:
		return p.UserID, true
	case *tg.InputPeerChat:
		return -p.ChatID, true
	case *tg.InputPeerChannel:
		return -(channelIDOffset + p.ChannelID), true
	default:
		return 0, false
	}
}

func randomID() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
