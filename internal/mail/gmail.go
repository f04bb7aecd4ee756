package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	netmail "net/mail"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gmail_bot/internal/model"
	"gmail_bot/internal/rate"
)

const pageSize = 100

// Gmail implements Client over the Gmail API.
type Gmail struct {
	svc     *gmail.Service
	limiter rate.Limiter
}

// NewGmail builds a Gmail client from an OAuth client secret file and a
// stored authorized-user token, gating every API call through limiter.
func NewGmail(ctx context.Context, credentialsPath, tokenPath string, limiter rate.Limiter) (*Gmail, error) {
	secret, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}

	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Gmail{svc: svc, limiter: limiter}, nil
}

// NewGmailFromService wraps an existing service, for tests.
func NewGmailFromService(svc *gmail.Service, limiter rate.Limiter) *Gmail {
	return &Gmail{svc: svc, limiter: limiter}
}

// FetchUnread lists unread inbox messages and resolves their metadata.
func (g *Gmail) FetchUnread(ctx context.Context) ([]model.MessageSummary, error) {
	var ids []string
	pageToken := ""
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		call := g.svc.Users.Messages.List("me").Q("in:inbox is:unread").MaxResults(pageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, classify(err)
		}
		for _, m := range res.Messages {
			ids = append(ids, m.Id)
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	summaries := make([]model.MessageSummary, 0, len(ids))
	for _, id := range ids {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		msg, err := g.svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			return nil, classify(err)
		}
		summaries = append(summaries, toSummary(msg))
	}
	return summaries, nil
}

// MarkRead removes the UNREAD label from a message. Idempotent: removing a
// label that is already absent succeeds.
func (g *Gmail) MarkRead(ctx context.Context, messageID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	_, err := g.svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	return nil
}

func toSummary(msg *gmail.Message) model.MessageSummary {
	s := model.MessageSummary{
		ID:         msg.Id,
		Snippet:    msg.Snippet,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return s
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			s.Sender = senderAddress(h.Value)
		case "Subject":
			s.Subject = decodeHeader(h.Value)
		}
	}
	return s
}

func senderAddress(from string) string {
	if addr, err := netmail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}

func decodeHeader(raw string) string {
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(raw); err == nil {
		return decoded
	}
	return raw
}

// classify maps provider errors onto the package taxonomy.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuthExpired, err)
		default:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open token file (run the authorization flow first): %w", err)
	}
	defer func() { _ = f.Close() }()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return tok, nil
}
