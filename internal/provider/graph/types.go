// Package graph implements a Provider that sends emails via the Microsoft Graph API.
//
// The body is always taken from the HTML field, typed by UseHTML. Graph
// accepts one body per message, so the alternate text body is never sent.
package graph

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"

	"github.com/shineum/mailbridge/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject       string            `json:"subject"`
	Body          messageBody       `json:"body"`
	From          *recipient        `json:"from,omitempty"`
	ToRecipients  []recipient       `json:"toRecipients"`
	CcRecipients  []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo       []recipient       `json:"replyTo,omitempty"`
	Attachments   []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Message into a Graph API sendMail
// request body. Attachments are read from disk here.
func buildSendMailRequest(msg *email.Message) (*sendMailRequest, error) {
	// sendMail carries a single body, so there is no alternate part.
	body := messageBody{
		ContentType: "text",
		Content:     msg.HTMLBody,
	}
	if msg.UseHTML {
		body.ContentType = "html"
	}

	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, path := range msg.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         filepath.Base(path),
			ContentType:  mimetype.Detect(data).String(),
			ContentBytes: base64.StdEncoding.EncodeToString(data),
		})
	}

	from := toRecipient(msg.From)

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:       "",
			Body:          body,
			From:          &from,
			ToRecipients:  toRecipients(msg.To),
			CcRecipients:  toRecipients(msg.Cc),
			BccRecipients: toRecipients(msg.Bcc),
			ReplyTo:       toRecipients(msg.ReplyTo),
			Attachments:   attachments,
		},
		SaveToSentItems: true,
	}, nil
}

func toRecipient(r email.Recipient) recipient {
	return recipient{EmailAddress: emailAddress{Address: r.Email, Name: r.Name}}
}

func toRecipients(list []email.Recipient) []recipient {
	return lo.Map(list, func(r email.Recipient, _ int) recipient {
		return toRecipient(r)
	})
}
