// Package slackbot posts run summaries and matched articles to a Slack channel.
package slackbot

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"shenbaosift/internal/csvcodec"
	"shenbaosift/internal/domain"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

type Notifier struct {
	api       poster
	channelID string
}

func New(token, channelID string, httpClient *http.Client) *Notifier {
	api := slack.New(token, slack.OptionHTTPClient(httpClient))
	return &Notifier{api: api, channelID: channelID}
}

func newWithPoster(api poster, channelID string) *Notifier {
	return &Notifier{api: api, channelID: channelID}
}

// Notify posts a summary of run to the channel and, when anything matched,
// uploads the matched articles as CSV.
func (n *Notifier) Notify(ctx context.Context, run domain.RunRecord, matched []domain.Record) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(summaryText(run), false),
		slack.MsgOptionBlocks(summaryBlocks(run)...),
	)
	if err != nil {
		return fmt.Errorf("posting run summary: %w", err)
	}
	if run.Status != domain.RunStatusDone || len(matched) == 0 {
		return nil
	}

	data := csvcodec.Serialize(matched)
	_, err = n.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:         bytes.NewReader(data),
		FileSize:       len(data),
		Filename:       matchedFileName(run.SourceName),
		Channel:        n.channelID,
		Title:          fmt.Sprintf("志怪异事: %s", displayName(run.SourceName)),
		InitialComment: fmt.Sprintf("%d matched articles", len(matched)),
	})
	if err != nil {
		return fmt.Errorf("uploading matched articles: %w", err)
	}
	log.Info().Str("run", run.ID).Str("channel", n.channelID).Int("matched", len(matched)).Msg("slack upload done")
	return nil
}

func summaryText(run domain.RunRecord) string {
	if run.Status == domain.RunStatusError {
		return fmt.Sprintf("Analysis of %s failed: %s", displayName(run.SourceName), run.Error)
	}
	return fmt.Sprintf("从 %d 篇文章中筛选出 %d 篇 “志怪异事” 相关文章。 (%s)",
		run.TotalRecords, run.MatchedCount, displayName(run.SourceName))
}

func summaryBlocks(run domain.RunRecord) []slack.Block {
	title := "分析完成"
	if run.Status == domain.RunStatusError {
		title = "分析失败"
	}

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*File*\n%s", displayName(run.SourceName)), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Source*\n%s", run.Source), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Articles*\n%d in %d batches", run.TotalRecords, run.TotalBatches), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Matched*\n%d", run.MatchedCount), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Model*\n%s / %s", run.LLMProvider, run.LLMModel), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Took*\n%s", formatDuration(run.Duration())), false, false),
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(nil, fields, nil),
	}
	if run.Status == domain.RunStatusError && run.Error != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "```"+run.Error+"```", false, false),
			nil, nil,
		))
	}
	return blocks
}

func matchedFileName(sourceName string) string {
	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "filtered_supernatural_articles.csv"
	}
	return base + ".matched.csv"
}

func displayName(sourceName string) string {
	if sourceName == "" {
		return "(unnamed)"
	}
	return filepath.Base(sourceName)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
