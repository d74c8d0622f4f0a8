package auth

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/mailriver/mailriver/interfaces"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/tracing"
)

// AccountOwnerDirectory resolves owners from the account record itself. A
// deployment with an external identity service swaps in its own directory.
type AccountOwnerDirectory struct {
	accounts interfaces.AccountRepository
}

func NewAccountOwnerDirectory(accounts interfaces.AccountRepository) *AccountOwnerDirectory {
	return &AccountOwnerDirectory{accounts: accounts}
}

func (d *AccountOwnerDirectory) ResolveOwner(ctx context.Context, accountID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountOwnerDirectory.ResolveOwner")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	account, err := d.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if account == nil {
		return "", mrerrors.ErrAccountNotFound
	}
	if account.OwnerID == "" {
		return "", mrerrors.ErrOwnerUnresolved
	}
	return account.OwnerID, nil
}
