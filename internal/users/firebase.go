package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// ErrIdentityNotFound indicates the provider has no account for the id.
var ErrIdentityNotFound = errors.New("users: identity not found")

// FirebaseLookup resolves Firebase Authentication accounts by uid.
type FirebaseLookup struct {
	service *identitytoolkit.Service
}

// NewFirebaseLookup builds a lookup authenticated with a service account file.
func NewFirebaseLookup(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*FirebaseLookup, error) {
	credentialsFile = strings.TrimSpace(credentialsFile)
	if credentialsFile == "" && len(opts) == 0 {
		return nil, fmt.Errorf("users: firebase credentials file required")
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	service, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("users: firebase identity toolkit: %w", err)
	}
	return &FirebaseLookup{service: service}, nil
}

// LookupIdentity fetches the account for userID.
func (f *FirebaseLookup) LookupIdentity(ctx context.Context, userID string) (Identity, error) {
	request := &identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		LocalId: []string{userID},
	}
	response, err := f.service.Relyingparty.GetAccountInfo(request).Context(ctx).Do()
	if err != nil {
		return Identity{}, fmt.Errorf("users: firebase lookup %s: %w", userID, err)
	}
	for _, account := range response.Users {
		if account == nil || account.LocalId != userID {
			continue
		}
		return Identity{
			UserID:      account.LocalId,
			Email:       normalize(account.Email),
			DisplayName: normalize(account.DisplayName),
		}, nil
	}
	return Identity{}, fmt.Errorf("%w: %s", ErrIdentityNotFound, userID)
}
