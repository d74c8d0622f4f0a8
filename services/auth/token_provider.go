package auth

import (
	"context"
	"os"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/interfaces"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
)

// EnvTokenProvider resolves an account's credential reference against the
// process environment. Token acquisition and rotation happen outside this
// system; the reference names whatever secret the deployment injected.
type EnvTokenProvider struct {
	accounts interfaces.AccountRepository
}

func NewEnvTokenProvider(accounts interfaces.AccountRepository) *EnvTokenProvider {
	return &EnvTokenProvider{accounts: accounts}
}

func (p *EnvTokenProvider) Refresh(ctx context.Context, accountID string) (*interfaces.Token, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EnvTokenProvider.Refresh")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	account, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if account == nil {
		return nil, mrerrors.ErrAccountNotFound
	}

	secret := os.Getenv(account.CredentialRef)
	if secret == "" {
		err := errors.Errorf("credential %s is not present in the environment", account.CredentialRef)
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &interfaces.Token{
		AccessToken: secret,
		ExpiresAt:   utils.Now().Add(time.Hour),
	}, nil
}
