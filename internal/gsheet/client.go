package gsheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4"

// Client appends rows to a Google Sheet over the REST API.
type Client struct {
	HTTPClient    *http.Client
	BaseURL       string
	AccessToken   string
	SpreadsheetID string
	Range         string
}

func NewClient(accessToken, spreadsheetID, sheetRange string) *Client {
	if sheetRange == "" {
		sheetRange = "Sheet1!A:E"
	}
	return &Client{
		HTTPClient:    &http.Client{Timeout: 15 * time.Second},
		BaseURL:       defaultBaseURL,
		AccessToken:   accessToken,
		SpreadsheetID: spreadsheetID,
		Range:         sheetRange,
	}
}

type appendRequest struct {
	Values [][]string `json:"values"`
}

type appendResponse struct {
	Updates struct {
		UpdatedRange string `json:"updatedRange"`
	} `json:"updates"`
}

// AppendRow appends one row of cells and returns the range it landed in.
func (c *Client) AppendRow(ctx context.Context, row []string) (string, error) {
	if c.AccessToken == "" {
		return "", fmt.Errorf("gsheet: access token missing")
	}
	if c.SpreadsheetID == "" {
		return "", fmt.Errorf("gsheet: spreadsheet id missing")
	}
	if len(row) == 0 {
		return "", fmt.Errorf("gsheet: empty row")
	}

	body, _ := json.Marshal(appendRequest{Values: [][]string{row}})
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		c.BaseURL, c.SpreadsheetID, url.PathEscape(c.Range))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gsheet: append row: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gsheet: append row: status=%d body=%s", resp.StatusCode, string(b))
	}

	var ar appendResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("gsheet: decode response: %w", err)
	}
	return ar.Updates.UpdatedRange, nil
}
