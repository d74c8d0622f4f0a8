package provider

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/models"
)

// MessageSummary is the canonical, provider-neutral view of one message.
// Adapters normalize their payloads into it at the boundary; nothing
// downstream branches on provider identity.
type MessageSummary struct {
	ProviderMessageID string
	Folder            string
	Direction         enum.MessageDirection
	Subject           string
	FromAddress       string
	ToAddresses       []string
	SentAt            *time.Time
	ReceivedAt        *time.Time
	Read              bool
}

// BodyVariants carries the content forms a provider exposes for one message.
type BodyVariants struct {
	Text string
	HTML string
	Size int64
}

type Capabilities struct {
	SupportsDelta bool
	SupportsPush  bool
}

// Page is one bounded slice of a folder listing. NextCursor is opaque; an
// empty NextCursor together with an empty summary slice means the folder is
// drained.
type Page struct {
	Summaries  []MessageSummary
	NextCursor string
}

// Adapter is the uniform interface over heterogeneous mailbox backends.
type Adapter interface {
	ListMessages(ctx context.Context, folder, cursor string, limit int) (*Page, error)
	FetchBody(ctx context.Context, providerMessageID string) (*BodyVariants, error)
	Capabilities() Capabilities
}

// Factory builds an adapter for an account using a short-lived access token.
// The orchestrator rebuilds the adapter after a token refresh.
type Factory func(ctx context.Context, account *models.Account, token string) (Adapter, error)

// ErrUnsupportedProvider is returned for provider kinds no adapter covers.
var ErrUnsupportedProvider = errors.New("unsupported provider kind")

// DirectionForFolder maps a folder name onto the write-type quota bucket.
func DirectionForFolder(folder string) enum.MessageDirection {
	switch folder {
	case "Sent", "SENT", "Sent Items", "[Gmail]/Sent Mail":
		return enum.MessageOutbound
	default:
		return enum.MessageInbound
	}
}
