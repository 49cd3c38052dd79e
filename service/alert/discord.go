package alert

import (
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
	"github.com/viney-shih/goroutines"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
)

type DiscordCfg struct {
	BotKey    string
	ChannelId string
	// Types selects the alerting events, defaults to payment conflicts and failed group hand-offs
	Types []domain.EventType
}

type sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
}

type discord struct {
	session   sender
	channelId string
	types     map[domain.EventType]string
	pool      *goroutines.Pool
}

var titles = map[domain.EventType]string{
	domain.EventPaymentConflict:    "Payment needs a refund",
	domain.EventGroupHandOffFailed: "Group hand-off failed",
}

// NewDiscord posts operator alerts to a channel. Every other event is ignored.
func NewDiscord(cfg *DiscordCfg) (domain.Notifier, error) {
	session, err := discordgo.New(fmt.Sprintf("Bot %s", cfg.BotKey))
	if err != nil {
		return nil, err
	}
	return newDiscord(session, cfg), nil
}

func newDiscord(s sender, cfg *DiscordCfg) *discord {
	types := map[domain.EventType]string{}
	if len(cfg.Types) == 0 {
		types = titles
	}
	for _, t := range cfg.Types {
		if title, ok := titles[t]; ok {
			types[t] = title
		} else {
			types[t] = string(t)
		}
	}
	return &discord{
		session:   s,
		channelId: cfg.ChannelId,
		types:     types,
		pool:      goroutines.NewPool(2, goroutines.WithTaskQueueLength(64)),
	}
}

func (d *discord) Notify(c ctx.Ctx, evt domain.Event) {
	title, ok := d.types[evt.Type]
	if !ok {
		return
	}
	msg := embed(title, evt)
	c = ctx.Detach(c)
	if err := d.pool.Schedule(func() {
		if _, err := d.session.ChannelMessageSendEmbed(d.channelId, msg); err != nil {
			c.WithFields(log.Fields{"err": err, "eventId": evt.Id}).Error("failed to discord.ChannelMessageSendEmbed")
		}
	}); err != nil {
		c.WithFields(log.Fields{"err": err, "eventId": evt.Id}).Error("failed to pool.Schedule")
	}
}

func embed(title string, evt domain.Event) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Aggregate", Value: evt.AggregateId},
		{Name: "Event", Value: string(evt.Type)},
	}
	ks := make([]string, 0, len(evt.Payload))
	for k := range evt.Payload {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	for _, k := range ks {
		fields = append(fields, &discordgo.MessageEmbedField{Name: k, Value: fmt.Sprint(evt.Payload[k]), Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: evt.Id,
		Timestamp:   evt.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
		Fields:      fields,
	}
}
