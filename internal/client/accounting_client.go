package client

import (
	"context"
	"fmt"
)

// AccountingClient talks to the external accounting export service that
// creates supplier bills. Payload formatting details live on the other side
// of this boundary.
type AccountingClient struct {
	client *httpClient
}

// NewAccountingClient creates a new accounting export client.
func NewAccountingClient(baseURL string) *AccountingClient {
	return &AccountingClient{client: newHTTPClient(baseURL)}
}

// BillLine is one coding line of an exported bill.
type BillLine struct {
	JobID       *string `json:"job_id,omitempty"`
	CostCodeID  *string `json:"cost_code_id,omitempty"`
	AccountCode *string `json:"account_code,omitempty"`
	Amount      string  `json:"amount"`
	Memo        *string `json:"memo,omitempty"`
}

// BillPayload is the export payload for one approved invoice.
type BillPayload struct {
	InvoiceID     string     `json:"invoice_id"`
	CompanyID     string     `json:"company_id"`
	SupplierID    string     `json:"supplier_id"`
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   *string    `json:"invoice_date,omitempty"`
	DueDate       *string    `json:"due_date,omitempty"`
	TotalEx       string     `json:"total_ex"`
	TotalTax      string     `json:"total_tax"`
	TotalInc      string     `json:"total_inc"`
	Lines         []BillLine `json:"lines"`
}

type createBillResponse struct {
	ExternalID string `json:"external_id"`
}

// CreateBill submits the bill and returns the external accounting system's id.
func (c *AccountingClient) CreateBill(ctx context.Context, payload *BillPayload) (string, error) {
	var resp createBillResponse
	if err := c.client.Post(ctx, "/api/v1/bills", payload, &resp); err != nil {
		return "", fmt.Errorf("failed to create bill: %w", err)
	}
	return resp.ExternalID, nil
}
