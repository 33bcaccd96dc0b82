package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSink sends SMS via the Twilio REST API. Grounded on the teacher's
// notification.SMSService.SendSMS.
type TwilioSink struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSink builds a TwilioSink. Returns ErrNotConfigured if any of
// the three credentials is empty, matching the teacher's IsConfigured
// gate.
func NewTwilioSink(accountSID, authToken, fromNumber string) (*TwilioSink, error) {
	if accountSID == "" || authToken == "" || fromNumber == "" {
		return nil, ErrNotConfigured
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSink{client: client, from: fromNumber}, nil
}

// Send submits the message to Twilio and maps the immediate REST response
// into a SendResult. The final delivery outcome arrives later via
// webhook/DLR polling, outside this call.
func (t *TwilioSink) Send(ctx context.Context, phone, body string) (SendResult, error) {
	params := &openapi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	messageID := ""
	if resp.Sid != nil {
		messageID = *resp.Sid
	}

	return SendResult{ProviderMessageID: messageID, ProviderStatus: statusCodeFor(resp.Status)}, nil
}

// statusCodeFor maps Twilio's textual message status into the integer
// provider_status vocabulary of spec.md §6.3.
func statusCodeFor(status *string) int {
	if status == nil {
		return 1
	}
	switch strings.ToLower(*status) {
	case "queued":
		return 1
	case "scheduled":
		return 2
	case "sending":
		return 4
	case "sent":
		return 5
	case "failed":
		return 6
	case "delivered":
		return 10
	case "undelivered":
		return 11
	case "canceled":
		return 13
	default:
		return 1
	}
}
