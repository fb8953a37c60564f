package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

// IdentityClient resolves users and their personal approval ceilings from the
// identity service.
type IdentityClient struct {
	client *httpClient
}

// NewIdentityClient creates a new identity service client.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{client: newHTTPClient(baseURL)}
}

// User is the identity record the approval engine needs. A zero
// ApprovalLimit means the user's spend is unlimited.
type User struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ApprovalLimit decimal.Decimal `json:"approval_limit"`
}

// GetUser fetches a user by id.
func (c *IdentityClient) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	path := fmt.Sprintf("/api/v1/users/%s", url.PathEscape(userID))
	if err := c.client.Get(ctx, path, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
