package imapmail

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/services/provider"
)

const dialTimeout = 30 * time.Second

// Adapter speaks IMAP through emersion/go-imap. Cursors are the last synced
// UID per folder, rendered as a decimal string. Provider message ids are
// "<folder>:<uid>" since IMAP UIDs are only unique within a folder.
type Adapter struct {
	client   *client.Client
	account  *models.Account
	selected string
}

func New(ctx context.Context, account *models.Account, password string) (*Adapter, error) {
	host, _ := account.Settings["imap_server"].(string)
	username, _ := account.Settings["imap_username"].(string)
	port := settingsInt(account.Settings, "imap_port", 993)
	useTLS := settingsBool(account.Settings, "imap_tls", true)
	if host == "" || username == "" {
		return nil, errors.Errorf("account %s has no imap connection settings", account.ID)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var c *client.Client
	var err error
	if useTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, provider.Transient(errors.Wrapf(err, "imap dial %s", addr))
	}
	c.Timeout = dialTimeout

	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		return nil, provider.AuthExpired(errors.Wrap(err, "imap login"))
	}

	return &Adapter{client: c, account: account}, nil
}

func (a *Adapter) Capabilities() provider.Capabilities {
	// UID-based resume is delta-ish, but there is no push channel without IDLE.
	return provider.Capabilities{SupportsDelta: true, SupportsPush: false}
}

func (a *Adapter) Close() error {
	return a.client.Logout()
}

func (a *Adapter) ListMessages(ctx context.Context, folder, cursor string, limit int) (*provider.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.selectFolder(folder); err != nil {
		return nil, err
	}

	lastUID, err := decodeCursor(cursor)
	if err != nil {
		return nil, provider.Fatal(err)
	}

	criteria := imap.NewSearchCriteria()
	if lastUID > 0 {
		seq := new(imap.SeqSet)
		seq.AddRange(lastUID+1, 0)
		criteria.Uid = seq
	}

	uids, err := a.client.UidSearch(criteria)
	if err != nil {
		return nil, mapIMAPError(err)
	}
	// UidSearch can echo UIDs at or below the cursor on some servers.
	uids = filterAbove(uids, lastUID)
	if len(uids) == 0 {
		return &provider.Page{NextCursor: cursor}, nil
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid}
	messages := make(chan *imap.Message, len(uids))
	if err := a.client.UidFetch(seqSet, items, messages); err != nil {
		return nil, mapIMAPError(err)
	}

	page := &provider.Page{}
	var highest uint32
	for msg := range messages {
		if msg.Uid > highest {
			highest = msg.Uid
		}
		page.Summaries = append(page.Summaries, normalize(msg, folder))
	}
	page.NextCursor = encodeCursor(highest)
	return page, nil
}

func (a *Adapter) FetchBody(ctx context.Context, providerMessageID string) (*provider.BodyVariants, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	folder, uid, err := splitMessageID(providerMessageID)
	if err != nil {
		return nil, provider.Fatal(err)
	}
	if err := a.selectFolder(folder); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	if err := a.client.UidFetch(seqSet, []imap.FetchItem{section.FetchItem(), imap.FetchUid}, messages); err != nil {
		return nil, mapIMAPError(err)
	}

	msg := <-messages
	if msg == nil {
		return nil, provider.NotFound(errors.Errorf("uid %d gone from %s", uid, folder))
	}
	body := msg.GetBody(section)
	if body == nil {
		return nil, provider.NotFound(errors.Errorf("uid %d has no body section", uid))
	}

	env, err := enmime.ReadEnvelope(body)
	if err != nil {
		return nil, provider.Transient(errors.Wrap(err, "parse mime envelope"))
	}
	return provider.NewBodyVariants(env.Text, env.HTML), nil
}

func (a *Adapter) selectFolder(folder string) error {
	if a.selected == folder {
		return nil
	}
	if _, err := a.client.Select(folder, true); err != nil {
		return mapIMAPError(err)
	}
	a.selected = folder
	return nil
}

func normalize(msg *imap.Message, folder string) provider.MessageSummary {
	summary := provider.MessageSummary{
		ProviderMessageID: joinMessageID(folder, msg.Uid),
		Folder:            folder,
		Direction:         provider.DirectionForFolder(folder),
	}
	if !msg.InternalDate.IsZero() {
		received := msg.InternalDate.UTC()
		summary.ReceivedAt = &received
	}
	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			summary.Read = true
		}
	}
	if env := msg.Envelope; env != nil {
		summary.Subject = env.Subject
		if !env.Date.IsZero() {
			sent := env.Date.UTC()
			summary.SentAt = &sent
		}
		if len(env.From) > 0 {
			summary.FromAddress = env.From[0].Address()
		}
		for _, to := range env.To {
			summary.ToAddresses = append(summary.ToAddresses, to.Address())
		}
	}
	return summary
}

func mapIMAPError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "login"):
		return provider.AuthExpired(err)
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "too many"):
		return provider.RateLimited(0, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection"):
		return provider.Transient(err)
	default:
		return provider.Transient(err)
	}
}

func decodeCursor(cursor string) (uint32, error) {
	if cursor == "" {
		return 0, nil
	}
	uid, err := strconv.ParseUint(cursor, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid imap cursor %q", cursor)
	}
	return uint32(uid), nil
}

func encodeCursor(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func joinMessageID(folder string, uid uint32) string {
	return fmt.Sprintf("%s:%d", folder, uid)
}

func splitMessageID(id string) (string, uint32, error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 {
		return "", 0, errors.Errorf("malformed imap message id %q", id)
	}
	uid, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", 0, errors.Wrapf(err, "malformed imap message id %q", id)
	}
	return id[:idx], uint32(uid), nil
}

func filterAbove(uids []uint32, last uint32) []uint32 {
	if last == 0 {
		return uids
	}
	out := uids[:0]
	for _, uid := range uids {
		if uid > last {
			out = append(out, uid)
		}
	}
	return out
}

func settingsInt(settings models.JSONMap, key string, def int) int {
	switch v := settings[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func settingsBool(settings models.JSONMap, key string, def bool) bool {
	if v, ok := settings[key].(bool); ok {
		return v
	}
	return def
}
