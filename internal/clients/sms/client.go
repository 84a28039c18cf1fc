// Package sms sends text messages through the Twilio REST API.
package sms

import (
	"context"
	"fmt"

	"ai-hotline/internal/observability"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioClient struct {
	client *twilio.RestClient
	from   string
	logger *observability.Logger
}

func NewTwilioClient(accountSID, authToken, from string, logger *observability.Logger) (*TwilioClient, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("Twilio account sid, auth token and from number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioClient{client: client, from: from, logger: logger}, nil
}

// SendSMS sends body to the E.164 number and returns the message sid.
func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "sms_to", Value: to})

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		c.logger.Error(ctx, "failed to send sms", err)
		return "", fmt.Errorf("failed to send sms: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Info(ctx, "sms sent", observability.Field{Key: "sms_sid", Value: sid})
	return sid, nil
}
