package gmailmail

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/services/provider"
)

const (
	pageCursorPrefix    = "page:"
	historyCursorPrefix = "hist:"
)

// Adapter speaks the Gmail REST API. The cursor starts as list page tokens
// during backfill and becomes a history id once the folder is drained, after
// which sync is a cheap history replay.
type Adapter struct {
	svc  *gmail.Service
	user string
}

func New(ctx context.Context, account *models.Account, token string) (*Adapter, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, errors.Wrap(err, "gmail service")
	}
	return &Adapter{svc: svc, user: "me"}, nil
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsDelta: true, SupportsPush: false}
}

func (a *Adapter) ListMessages(ctx context.Context, folder, cursor string, limit int) (*provider.Page, error) {
	if strings.HasPrefix(cursor, historyCursorPrefix) {
		return a.historyPage(ctx, folder, cursor, limit)
	}
	return a.backfillPage(ctx, folder, cursor, limit)
}

func (a *Adapter) backfillPage(ctx context.Context, folder, cursor string, limit int) (*provider.Page, error) {
	call := a.svc.Users.Messages.List(a.user).
		Context(ctx).
		LabelIds(labelForFolder(folder)).
		IncludeSpamTrash(false).
		MaxResults(int64(limit))
	if strings.HasPrefix(cursor, pageCursorPrefix) {
		call = call.PageToken(strings.TrimPrefix(cursor, pageCursorPrefix))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, mapGmailError(err)
	}

	page := &provider.Page{}
	for _, ref := range resp.Messages {
		msg, err := a.svc.Users.Messages.Get(a.user, ref.Id).Context(ctx).Format("metadata").
			MetadataHeaders("Subject", "From", "To", "Date").Do()
		if err != nil {
			if provider.IsNotFound(mapGmailError(err)) {
				continue
			}
			return nil, mapGmailError(err)
		}
		page.Summaries = append(page.Summaries, normalize(msg, folder))
	}

	if resp.NextPageToken != "" {
		page.NextCursor = pageCursorPrefix + resp.NextPageToken
		return page, nil
	}

	// Backfill drained; anchor the cursor to the mailbox history id.
	profile, err := a.svc.Users.GetProfile(a.user).Context(ctx).Do()
	if err != nil {
		return nil, mapGmailError(err)
	}
	page.NextCursor = historyCursorPrefix + strconv.FormatUint(profile.HistoryId, 10)
	return page, nil
}

func (a *Adapter) historyPage(ctx context.Context, folder, cursor string, limit int) (*provider.Page, error) {
	startID, err := strconv.ParseUint(strings.TrimPrefix(cursor, historyCursorPrefix), 10, 64)
	if err != nil {
		return nil, provider.Fatal(errors.Wrapf(err, "invalid gmail cursor %q", cursor))
	}

	resp, err := a.svc.Users.History.List(a.user).
		Context(ctx).
		StartHistoryId(startID).
		LabelId(labelForFolder(folder)).
		HistoryTypes("messageAdded").
		MaxResults(int64(limit)).
		Do()
	if err != nil {
		return nil, mapGmailError(err)
	}

	latest := startID
	seen := make(map[string]bool)
	page := &provider.Page{}
	for _, history := range resp.History {
		if history.Id > latest {
			latest = history.Id
		}
		for _, record := range history.MessagesAdded {
			if record.Message == nil || seen[record.Message.Id] {
				continue
			}
			seen[record.Message.Id] = true
			msg, err := a.svc.Users.Messages.Get(a.user, record.Message.Id).Context(ctx).Format("metadata").
				MetadataHeaders("Subject", "From", "To", "Date").Do()
			if err != nil {
				if provider.IsNotFound(mapGmailError(err)) {
					continue
				}
				return nil, mapGmailError(err)
			}
			page.Summaries = append(page.Summaries, normalize(msg, folder))
		}
	}
	if resp.HistoryId > latest {
		latest = resp.HistoryId
	}
	page.NextCursor = historyCursorPrefix + strconv.FormatUint(latest, 10)
	return page, nil
}

func (a *Adapter) FetchBody(ctx context.Context, providerMessageID string) (*provider.BodyVariants, error) {
	msg, err := a.svc.Users.Messages.Get(a.user, providerMessageID).Context(ctx).Format("full").Do()
	if err != nil {
		return nil, mapGmailError(err)
	}
	text, html := extractBodies(msg.Payload)
	return provider.NewBodyVariants(text, html), nil
}

func extractBodies(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				text = string(decoded)
			case "text/html":
				html = string(decoded)
			}
		}
	}
	for _, child := range part.Parts {
		childText, childHTML := extractBodies(child)
		if text == "" {
			text = childText
		}
		if html == "" {
			html = childHTML
		}
	}
	return text, html
}

func normalize(msg *gmail.Message, folder string) provider.MessageSummary {
	summary := provider.MessageSummary{
		ProviderMessageID: msg.Id,
		Folder:            folder,
		Direction:         provider.DirectionForFolder(folder),
		Read:              true,
	}
	if msg.InternalDate > 0 {
		received := time.UnixMilli(msg.InternalDate).UTC()
		summary.ReceivedAt = &received
	}
	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			summary.Read = false
		}
	}
	if msg.Payload == nil {
		return summary
	}
	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			summary.Subject = header.Value
		case "From":
			summary.FromAddress = header.Value
		case "To":
			for _, addr := range strings.Split(header.Value, ",") {
				summary.ToAddresses = append(summary.ToAddresses, strings.TrimSpace(addr))
			}
		case "Date":
			if sent, err := time.Parse(time.RFC1123Z, header.Value); err == nil {
				utc := sent.UTC()
				summary.SentAt = &utc
			}
		}
	}
	return summary
}

func labelForFolder(folder string) string {
	switch strings.ToUpper(folder) {
	case "SENT", "SENT ITEMS":
		return "SENT"
	case "", "INBOX":
		return "INBOX"
	default:
		return folder
	}
}

func mapGmailError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return provider.AuthExpired(err)
		case 404, 410:
			return provider.NotFound(err)
		case 429:
			return provider.RateLimited(retryAfterHint(apiErr), err)
		case 403:
			if strings.Contains(apiErr.Message, "rate") || strings.Contains(apiErr.Message, "quota") {
				return provider.RateLimited(retryAfterHint(apiErr), err)
			}
			return provider.AuthExpired(err)
		default:
			if apiErr.Code >= 500 {
				return provider.Transient(err)
			}
			return provider.Fatal(err)
		}
	}
	return provider.Transient(err)
}

func retryAfterHint(apiErr *googleapi.Error) time.Duration {
	if apiErr.Header == nil {
		return 0
	}
	if v := apiErr.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
