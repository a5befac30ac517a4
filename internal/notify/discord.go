package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/bwmarrin/discordgo"
)

const (
	maxDescription = 4096
	footerText     = "Disposal triage - pending review"
)

// embedSender is the part of *discordgo.Session the notifier uses
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts pending reviews as embeds to a single channel
type Discord struct {
	session   embedSender
	closer    func() error
	channelID string
	reviewURL string
}

// NewDiscord creates a bot session. reviewURL, when set, links each embed to
// the admin review page (the submission id is appended).
func NewDiscord(botToken, channelID, reviewURL string) (*Discord, error) {
	if botToken == "" || channelID == "" {
		return nil, fmt.Errorf("discord bot token and channel id are required")
	}

	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &Discord{
		session:   session,
		closer:    session.Close,
		channelID: channelID,
		reviewURL: strings.TrimRight(reviewURL, "/"),
	}, nil
}

// NotifyPending sends one embed per review
func (d *Discord) NotifyPending(ctx context.Context, review PendingReview) error {
	embed := d.buildEmbed(review)

	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

func colorFor(c analysis.Category) int {
	switch c {
	case analysis.Recycle:
		return 0xE74C3C
	case analysis.Repair:
		return 0xF39C12
	case analysis.Reuse:
		return 0x3498DB
	case analysis.Retain:
		return 0x2ECC71
	default:
		return 0x95A5A6
	}
}

func (d *Discord) buildEmbed(review PendingReview) *discordgo.MessageEmbed {
	title := fmt.Sprintf("%s - %s", review.Recommendation.Label(), review.FormTitle)
	if review.FormTitle == "" {
		title = review.Recommendation.Label()
	}

	description := review.Reasoning
	if len(description) > maxDescription {
		description = description[:maxDescription-3] + "..."
	}

	submittedAt := review.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       colorFor(review.Recommendation),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Confidence",
				Value:  fmt.Sprintf("%.0f%%", review.Confidence*100),
				Inline: true,
			},
			{
				Name: "Scores",
				Value: fmt.Sprintf("Recycle %d / Repair %d / Reuse %d / Retain %d",
					review.Scores.Recycle, review.Scores.Repair, review.Scores.Reuse, review.Scores.Retain),
				Inline: true,
			},
			{
				Name:   "Submission",
				Value:  review.SubmissionID,
				Inline: false,
			},
		},
		Timestamp: submittedAt.Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
	}

	if d.reviewURL != "" {
		embed.URL = d.reviewURL + "/" + review.SubmissionID
	}

	return embed
}

// Close closes the bot session
func (d *Discord) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
