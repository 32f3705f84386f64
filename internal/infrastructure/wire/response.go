package wire

import (
	"encoding/json"

	"modchat/internal/domain/entity"
)

// Pagination is the pagination block of list responses.
type Pagination struct {
	Page       *FlexInt `json:"page"`
	Current    *FlexInt `json:"current_page"`
	TotalPages *FlexInt `json:"total_pages"`
	LastPage   *FlexInt `json:"last_page"`
	PageSize   *FlexInt `json:"page_size"`
	PerPage    *FlexInt `json:"per_page"`
	Total      *FlexInt `json:"total"`
}

// HistoryResponse is the body of GET /chat/history. Messages may sit under
// messages or data, with pagination inline or nested.
type HistoryResponse struct {
	Messages   []json.RawMessage `json:"messages"`
	Data       json.RawMessage   `json:"data"`
	Page       *FlexInt          `json:"page"`
	TotalPages *FlexInt          `json:"total_pages"`
	Pagination *Pagination       `json:"pagination"`
	Annotation *FlexString       `json:"annotation"`
	Note       *FlexString       `json:"note"`
}

// ToPage converts the response. Rows without an id are skipped.
func (r HistoryResponse) ToPage(identity entity.ConversationIdentity, requested int, moderatorID int64) (*entity.HistoryPage, error) {
	rows := r.Messages
	if rows == nil && len(r.Data) > 0 && r.Data[0] == '[' {
		if err := json.Unmarshal(r.Data, &rows); err != nil {
			return nil, err
		}
	}

	messages := make([]entity.Message, 0, len(rows))
	for _, raw := range rows {
		var dto MessageDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, err
		}
		if msg, ok := dto.ToMessage(moderatorID); ok {
			messages = append(messages, msg)
		}
	}

	page := requested
	total := 0
	if v := firstInt(r.Page); v != 0 {
		page = int(v)
	}
	if v := firstInt(r.TotalPages); v != 0 {
		total = int(v)
	}
	if p := r.Pagination; p != nil {
		if v := firstInt(p.Current, p.Page); v != 0 {
			page = int(v)
		}
		if v := firstInt(p.TotalPages, p.LastPage); v != 0 {
			total = int(v)
		}
	}
	if total < page {
		total = page
	}

	return &entity.HistoryPage{
		ConversationKey: identity.Key(),
		PageNumber:      page,
		Messages:        messages,
		TotalPages:      total,
		Annotation:      deref(firstString(r.Annotation, r.Note)),
	}, nil
}

// RosterResponse is the body of GET /chat/active.
type RosterResponse struct {
	Entries    []RosterEntryDTO `json:"entries"`
	Chats      []RosterEntryDTO `json:"chats"`
	Data       json.RawMessage  `json:"data"`
	Pagination *Pagination      `json:"pagination"`
}

func (r RosterResponse) Rows() ([]RosterEntryDTO, error) {
	switch {
	case r.Entries != nil:
		return r.Entries, nil
	case r.Chats != nil:
		return r.Chats, nil
	case len(r.Data) > 0 && r.Data[0] == '[':
		var rows []RosterEntryDTO
		if err := json.Unmarshal(r.Data, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	return nil, nil
}

// SendRequest is the body of POST /chat/send.
type SendRequest struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	ChatID     string `json:"chat_id,omitempty"`
	Message    string `json:"message"`
	SentTime   string `json:"sent_time"`
}

type SendResponse struct {
	ID        *FlexString `json:"id"`
	MessageID *FlexString `json:"message_id"`
	Status    *FlexString `json:"status"`
}

// MarkReadRequest is the body of POST /chat/mark-read.
type MarkReadRequest struct {
	SenderID  int64   `json:"sender_id"`
	MessageID *string `json:"message_id,omitempty"`
}

// ErrorResponse covers the error bodies the backend returns.
type ErrorResponse struct {
	Message *FlexString `json:"message"`
	Error   *FlexString `json:"error"`
	Detail  *FlexString `json:"detail"`
}

func (e ErrorResponse) Text() string {
	return deref(firstString(e.Message, e.Error, e.Detail))
}
