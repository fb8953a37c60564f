package client

import (
	"context"
	"encoding/base64"
)

// ExtractionClient calls the document extraction service that reads invoice
// fields out of an uploaded document.
type ExtractionClient struct {
	client *httpClient
}

// NewExtractionClient creates a new extraction service client.
func NewExtractionClient(baseURL string) *ExtractionClient {
	return &ExtractionClient{client: newHTTPClient(baseURL)}
}

// ExtractionResult carries the fields the extraction service resolved from a
// document. Monetary amounts travel as decimal strings.
type ExtractionResult struct {
	SupplierID    *string `json:"supplier_id"`
	SupplierName  string  `json:"supplier_name"`
	InvoiceNumber string  `json:"invoice_number"`
	InvoiceDate   *string `json:"invoice_date"` // YYYY-MM-DD
	DueDate       *string `json:"due_date"`
	Description   *string `json:"description"`
	TotalEx       string  `json:"total_ex"`
	TotalTax      string  `json:"total_tax"`
	TotalInc      string  `json:"total_inc"`
	Confidence    float64 `json:"confidence"`
}

type extractRequest struct {
	Document string `json:"document"` // base64
	MimeType string `json:"mime_type"`
}

// Extract sends document bytes for field extraction.
func (c *ExtractionClient) Extract(ctx context.Context, document []byte, mimeType string) (*ExtractionResult, error) {
	req := extractRequest{
		Document: base64.StdEncoding.EncodeToString(document),
		MimeType: mimeType,
	}

	var result ExtractionResult
	if err := c.client.Post(ctx, "/api/v1/extract", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
