package telephony

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Dialer places outbound calls through the Twilio REST API.
type Dialer struct {
	client      *twilio.RestClient
	fromNumber  string
	countryCode string
	twimlURL    string
}

type DialerConfig struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	CountryCode string
	// TwimlURL is fetched by Twilio when the callee answers.
	TwimlURL string
}

func NewDialer(cfg DialerConfig) *Dialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Dialer{
		client:      client,
		fromNumber:  cfg.FromNumber,
		countryCode: cfg.CountryCode,
		twimlURL:    cfg.TwimlURL,
	}
}

// PlaceCall validates and normalizes the destination, then creates the call.
// displayName is required so the call shows up attributed in the audit
// timeline, not just as a bare number.
func (d *Dialer) PlaceCall(displayName, phoneNumber string) (string, error) {
	if strings.TrimSpace(displayName) == "" {
		return "", fmt.Errorf("telephony: display name required")
	}
	to, err := NormalizeNumber(phoneNumber, d.countryCode)
	if err != nil {
		return "", err
	}
	if d.fromNumber == "" {
		return "", fmt.Errorf("telephony: caller number not configured")
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.fromNumber)
	params.SetUrl(d.twimlURL)

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("telephony: create call to %s: %w", to, err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("telephony: create call returned no sid")
	}
	return *resp.Sid, nil
}
