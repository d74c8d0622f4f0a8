package graphmail

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	azureauth "github.com/microsoft/kiota-authentication-azure-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	graphmodels "github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	graphusers "github.com/microsoftgraph/msgraph-sdk-go/users"
	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/services/provider"
)

var graphScopes = []string{"https://graph.microsoft.com/.default"}

// Adapter speaks Microsoft Graph. Cursors are the delta links Graph hands
// back, resumed verbatim; provider message ids are Graph message ids.
type Adapter struct {
	client  *msgraphsdk.GraphServiceClient
	adapter *msgraphsdk.GraphRequestAdapter
	userID  string
}

func New(ctx context.Context, account *models.Account, token string) (*Adapter, error) {
	cred := &staticTokenCredential{token: token}
	authProvider, err := azureauth.NewAzureIdentityAuthenticationProviderWithScopes(cred, graphScopes)
	if err != nil {
		return nil, errors.Wrap(err, "graph auth provider")
	}
	requestAdapter, err := msgraphsdk.NewGraphRequestAdapter(authProvider)
	if err != nil {
		return nil, errors.Wrap(err, "graph request adapter")
	}

	userID, _ := account.Settings["graph_user_id"].(string)
	if userID == "" {
		userID = account.EmailAddress
	}

	return &Adapter{
		client:  msgraphsdk.NewGraphServiceClient(requestAdapter),
		adapter: requestAdapter,
		userID:  userID,
	}, nil
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsDelta: true, SupportsPush: true}
}

func (a *Adapter) ListMessages(ctx context.Context, folder, cursor string, limit int) (*provider.Page, error) {
	response, err := a.deltaPage(ctx, folder, cursor, limit)
	if err != nil {
		return nil, mapGraphError(err)
	}

	page := &provider.Page{}
	for _, msg := range response.GetValue() {
		page.Summaries = append(page.Summaries, normalize(msg, folder))
	}

	// Graph returns a next link while the listing is unfinished and a delta
	// link once drained; either one is the resumable cursor.
	if next := response.GetOdataNextLink(); next != nil && *next != "" {
		page.NextCursor = *next
	} else if delta := response.GetOdataDeltaLink(); delta != nil && *delta != "" {
		page.NextCursor = *delta
	} else {
		page.NextCursor = cursor
	}
	return page, nil
}

func (a *Adapter) deltaPage(ctx context.Context, folder, cursor string, limit int) (graphusers.ItemMailFoldersItemMessagesDeltaResponseable, error) {
	if cursor != "" {
		builder := graphusers.NewItemMailFoldersItemMessagesDeltaRequestBuilder(cursor, a.adapter)
		resp, err := builder.Get(ctx, nil)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	top := int32(limit)
	config := &graphusers.ItemMailFoldersItemMessagesDeltaRequestBuilderGetRequestConfiguration{
		QueryParameters: &graphusers.ItemMailFoldersItemMessagesDeltaRequestBuilderGetQueryParameters{
			Top:    &top,
			Select: []string{"id", "subject", "from", "toRecipients", "sentDateTime", "receivedDateTime", "isRead"},
		},
	}
	resp, err := a.client.Users().
		ByUserId(a.userID).
		MailFolders().
		ByMailFolderId(folder).
		Messages().
		Delta().
		Get(ctx, config)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *Adapter) FetchBody(ctx context.Context, providerMessageID string) (*provider.BodyVariants, error) {
	config := &graphusers.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &graphusers.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: []string{"body"},
		},
	}
	msg, err := a.client.Users().
		ByUserId(a.userID).
		Messages().
		ByMessageId(providerMessageID).
		Get(ctx, config)
	if err != nil {
		return nil, mapGraphError(err)
	}

	body := msg.GetBody()
	if body == nil || body.GetContent() == nil {
		return provider.NewBodyVariants("", ""), nil
	}
	content := *body.GetContent()
	if ct := body.GetContentType(); ct != nil && *ct == graphmodels.TEXT_BODYTYPE {
		return provider.NewBodyVariants(content, ""), nil
	}
	return provider.NewBodyVariants("", content), nil
}

func normalize(msg graphmodels.Messageable, folder string) provider.MessageSummary {
	summary := provider.MessageSummary{
		Folder:    folder,
		Direction: provider.DirectionForFolder(folder),
	}
	if id := msg.GetId(); id != nil {
		summary.ProviderMessageID = *id
	}
	if subject := msg.GetSubject(); subject != nil {
		summary.Subject = *subject
	}
	if from := msg.GetFrom(); from != nil && from.GetEmailAddress() != nil {
		if addr := from.GetEmailAddress().GetAddress(); addr != nil {
			summary.FromAddress = *addr
		}
	}
	for _, rcpt := range msg.GetToRecipients() {
		if rcpt.GetEmailAddress() != nil && rcpt.GetEmailAddress().GetAddress() != nil {
			summary.ToAddresses = append(summary.ToAddresses, *rcpt.GetEmailAddress().GetAddress())
		}
	}
	if sent := msg.GetSentDateTime(); sent != nil {
		utc := sent.UTC()
		summary.SentAt = &utc
	}
	if received := msg.GetReceivedDateTime(); received != nil {
		utc := received.UTC()
		summary.ReceivedAt = &utc
	}
	if read := msg.GetIsRead(); read != nil {
		summary.Read = *read
	}
	return summary
}

func mapGraphError(err error) error {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		switch odataErr.ResponseStatusCode {
		case 401, 403:
			return provider.AuthExpired(err)
		case 404, 410:
			return provider.NotFound(err)
		case 429:
			return provider.RateLimited(0, err)
		default:
			if odataErr.ResponseStatusCode >= 500 {
				return provider.Transient(err)
			}
			return provider.Fatal(err)
		}
	}
	return provider.Transient(err)
}

// staticTokenCredential satisfies azcore.TokenCredential with the short-lived
// token the token provider already refreshed.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}
