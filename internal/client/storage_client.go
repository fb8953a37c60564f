package client

import (
	"context"
	"net/url"
)

// StorageClient talks to the object storage service holding source documents.
type StorageClient struct {
	client *httpClient
}

// NewStorageClient creates a new object storage client.
func NewStorageClient(baseURL string) *StorageClient {
	return &StorageClient{client: newHTTPClient(baseURL)}
}

// Get retrieves an object by key.
func (c *StorageClient) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.GetRaw(ctx, "/api/v1/objects/"+url.PathEscape(key))
}

// Put stores an object under a key.
func (c *StorageClient) Put(ctx context.Context, key string, data []byte) error {
	return c.client.PutRaw(ctx, "/api/v1/objects/"+url.PathEscape(key), "application/octet-stream", data)
}
