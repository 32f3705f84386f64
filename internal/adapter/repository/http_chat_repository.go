package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"modchat/internal/domain/entity"
	"modchat/internal/domain/repository"
	"modchat/internal/infrastructure/metrics"
	"modchat/internal/infrastructure/wire"
	"modchat/pkg/errors"
)

const (
	historyPath  = "/chat/history"
	rosterPath   = "/chat/active"
	sendPath     = "/chat/send"
	markReadPath = "/chat/mark-read"
)

type httpChatRepository struct {
	client        *resty.Client
	tokens        repository.TokenStore
	onAuthFailure repository.AuthFailureHandler
	moderatorID   int64
	log           zerolog.Logger
}

// NewHTTPChatRepository talks to the chat backend at baseURL. onAuthFailure
// may be nil.
func NewHTTPChatRepository(
	baseURL string,
	timeout time.Duration,
	moderatorID int64,
	tokens repository.TokenStore,
	onAuthFailure repository.AuthFailureHandler,
	log zerolog.Logger,
) repository.ChatRepository {
	if onAuthFailure == nil {
		onAuthFailure = func(int) {}
	}
	return &httpChatRepository{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json"),
		tokens:        tokens,
		onAuthFailure: onAuthFailure,
		moderatorID:   moderatorID,
		log:           log.With().Str("component", "chat_backend").Logger(),
	}
}

func (r *httpChatRepository) GetHistory(ctx context.Context, query repository.HistoryQuery) (*entity.HistoryPage, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"page":     strconv.Itoa(query.Page),
		"per_page": strconv.Itoa(query.PerPage),
	}
	if id := query.Identity.ChatID(); id != "" {
		params["chat_id"] = id
	}
	if id := query.Identity.UserID(); id != 0 {
		params["user_id"] = strconv.FormatInt(id, 10)
	}

	var body wire.HistoryResponse
	started := time.Now()
	resp, err := req.SetQueryParams(params).SetResult(&body).Get(historyPath)
	if err := r.check("history", started, resp, err); err != nil {
		return nil, err
	}

	page, err := body.ToPage(query.Identity, query.Page, r.moderatorID)
	if err != nil {
		return nil, errors.BadPayload("Malformed history response", err)
	}
	return page, nil
}

func (r *httpChatRepository) ListRoster(ctx context.Context, page, pageSize int) (*repository.RosterPage, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}

	var body wire.RosterResponse
	started := time.Now()
	resp, err := req.
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("page_size", strconv.Itoa(pageSize)).
		SetResult(&body).
		Get(rosterPath)
	if err := r.check("roster", started, resp, err); err != nil {
		return nil, err
	}

	rows, err := body.Rows()
	if err != nil {
		return nil, errors.BadPayload("Malformed roster response", err)
	}
	result := &repository.RosterPage{
		Entries:  make([]entity.RosterEntry, 0, len(rows)),
		Page:     page,
		PageSize: pageSize,
	}
	for _, row := range rows {
		if e, ok := row.ToEntry(); ok {
			result.Entries = append(result.Entries, e)
		}
	}
	if p := body.Pagination; p != nil {
		if v := optionalInt(p.TotalPages, p.LastPage); v != 0 {
			result.TotalPages = v
		}
		if v := optionalInt(p.Total); v != 0 {
			result.Total = v
		}
	}
	if result.TotalPages == 0 && result.Total > 0 && pageSize > 0 {
		result.TotalPages = (result.Total + pageSize - 1) / pageSize
	}
	if result.TotalPages == 0 {
		result.TotalPages = page
	}
	return result, nil
}

func (r *httpChatRepository) SendMessage(ctx context.Context, input repository.SendMessageInput) (*repository.SendAck, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}

	var body wire.SendResponse
	started := time.Now()
	resp, err := req.
		SetBody(wire.SendRequest{
			SenderID:   input.SenderID,
			ReceiverID: input.ReceiverID,
			ChatID:     input.ChatID,
			Message:    input.Text,
			SentTime:   input.SentTime.UTC().Format(time.RFC3339),
		}).
		SetResult(&body).
		Post(sendPath)
	if err := r.check("send", started, resp, err); err != nil {
		return nil, err
	}

	ack := &repository.SendAck{Status: "sent"}
	for _, v := range []*wire.FlexString{body.MessageID, body.ID} {
		if v != nil {
			ack.MessageID = string(*v)
			break
		}
	}
	if body.Status != nil {
		ack.Status = string(*body.Status)
	}
	return ack, nil
}

func (r *httpChatRepository) MarkRead(ctx context.Context, senderID int64, messageID *string) error {
	req, err := r.request(ctx)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := req.
		SetBody(wire.MarkReadRequest{SenderID: senderID, MessageID: messageID}).
		Post(markReadPath)
	return r.check("mark_read", started, resp, err)
}

func (r *httpChatRepository) request(ctx context.Context) (*resty.Request, error) {
	token, ok := r.tokens.Token()
	if !ok {
		r.onAuthFailure(http.StatusUnauthorized)
		return nil, errors.Unauthorized("Session expired", nil)
	}
	return r.client.R().SetContext(ctx).SetAuthToken(token), nil
}

// check classifies the outcome of a call and records its duration.
func (r *httpChatRepository) check(op string, started time.Time, resp *resty.Response, err error) error {
	status := "ok"
	defer func() {
		metrics.RequestDuration.WithLabelValues(op, status).Observe(time.Since(started).Seconds())
	}()

	if err != nil {
		status = "network"
		r.log.Warn().Err(err).Str("operation", op).Msg("chat backend unreachable")
		return errors.Unavailable("Chat backend unreachable", err)
	}
	if !resp.IsError() {
		return nil
	}

	code := resp.StatusCode()
	status = strconv.Itoa(code)
	message := http.StatusText(code)
	var body wire.ErrorResponse
	if json.Unmarshal(resp.Body(), &body) == nil && body.Text() != "" {
		message = body.Text()
	}

	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		r.log.Warn().Int("status", code).Str("operation", op).Msg("chat backend rejected credentials")
		r.tokens.Clear()
		r.onAuthFailure(code)
	}
	return errors.FromStatus(code, message)
}

func optionalInt(values ...*wire.FlexInt) int {
	for _, v := range values {
		if v != nil && *v != 0 {
			return int(*v)
		}
	}
	return 0
}
