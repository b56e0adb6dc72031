package trigger

import (
	"context"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/rs/zerolog"

	"streamd/pkg/types"
)

// Chat bridges Twitch IRC into trigger events. Each privmsg becomes one
// event whose ReplyTo carries the originating channel so the reply sink can
// answer in place. Chat also exposes Say for that sink.
type Chat struct {
	client   *twitch.Client
	channels []string
	log      zerolog.Logger
}

// NewChat builds a chat source. With an empty nick the connection is
// anonymous (read-only; Say becomes a no-op).
func NewChat(nick, token string, channels []string, log zerolog.Logger) *Chat {
	var client *twitch.Client
	if nick == "" {
		client = twitch.NewAnonymousClient()
	} else {
		if token != "" && !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		client = twitch.NewClient(nick, token)
	}
	return &Chat{client: client, channels: channels, log: log}
}

func (c *Chat) Name() string { return "chat" }

func (c *Chat) Run(ctx context.Context, out chan<- types.TriggerEvent) error {
	c.client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		send(ctx, out, types.TriggerEvent{
			Source:     types.SourceChat,
			Payload:    m.User.DisplayName + " says: " + m.Message,
			ReplyTo:    m.Channel,
			ReceivedAt: time.Now(),
		})
	})
	c.client.Join(c.channels...)
	go func() {
		<-ctx.Done()
		_ = c.client.Disconnect()
	}()
	c.log.Info().Strs("channels", c.channels).Msg("chat connecting")
	err := c.client.Connect()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Say sends text to a channel. Used by the chat reply sink.
func (c *Chat) Say(channel, text string) {
	if channel == "" {
		return
	}
	c.client.Say(channel, text)
}
