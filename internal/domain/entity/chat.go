package entity

import "time"

// RosterEntry is one conversation in the moderator's active chat list.
type RosterEntry struct {
	EntryID            string    `json:"entry_id"`
	CounterpartyUserID int64     `json:"counterparty_user_id"`
	DisplayName        string    `json:"display_name"`
	IsOnline           bool      `json:"is_online"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	LastMessageTime    time.Time `json:"last_message_time,omitempty"`
	UnreadCount        int       `json:"unread_count"`
	Balance            string    `json:"balance,omitempty"`
	WinningBalance     string    `json:"winning_balance,omitempty"`
}

// SignificantlyDiffers reports whether replacing e with other would change
// anything the roster renders.
func (e RosterEntry) SignificantlyDiffers(other RosterEntry) bool {
	return e.LastMessagePreview != other.LastMessagePreview ||
		!e.LastMessageTime.Equal(other.LastMessageTime) ||
		e.UnreadCount != other.UnreadCount ||
		e.IsOnline != other.IsOnline ||
		e.Balance != other.Balance ||
		e.WinningBalance != other.WinningBalance
}

// RosterPatch is a partial update pushed for a single entry. Nil fields
// were absent from the payload and must not overwrite anything.
type RosterPatch struct {
	EntryID            string
	CounterpartyUserID int64
	DisplayName        *string
	IsOnline           *bool
	LastMessagePreview *string
	LastMessageTime    *time.Time
	UnreadCount        *int
	Balance            *string
	WinningBalance     *string
}

// Apply merges the patch into e. A preview older than the one already
// held is ignored so a late delta cannot regress the entry.
func (p RosterPatch) Apply(e RosterEntry) RosterEntry {
	if e.EntryID == "" {
		e.EntryID = p.EntryID
	}
	if e.CounterpartyUserID == 0 {
		e.CounterpartyUserID = p.CounterpartyUserID
	}
	if p.DisplayName != nil && *p.DisplayName != "" {
		e.DisplayName = *p.DisplayName
	}
	if p.IsOnline != nil {
		e.IsOnline = *p.IsOnline
	}
	fresher := p.LastMessageTime == nil || !p.LastMessageTime.Before(e.LastMessageTime)
	if fresher {
		if p.LastMessagePreview != nil {
			e.LastMessagePreview = *p.LastMessagePreview
		}
		if p.LastMessageTime != nil {
			e.LastMessageTime = *p.LastMessageTime
		}
		if p.UnreadCount != nil {
			e.UnreadCount = *p.UnreadCount
		}
	} else if p.UnreadCount != nil && *p.UnreadCount == 0 {
		e.UnreadCount = 0
	}
	if p.Balance != nil {
		e.Balance = *p.Balance
	}
	if p.WinningBalance != nil {
		e.WinningBalance = *p.WinningBalance
	}
	return e
}

// Player is the roster projected onto counterparties.
type Player struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsOnline    bool   `json:"is_online"`
	ChatID      string `json:"chat_id,omitempty"`
}

// PatchFrom treats a full entry as a patch with every field present.
func PatchFrom(e RosterEntry) RosterPatch {
	p := RosterPatch{
		EntryID:            e.EntryID,
		CounterpartyUserID: e.CounterpartyUserID,
		DisplayName:        &e.DisplayName,
		IsOnline:           &e.IsOnline,
		LastMessagePreview: &e.LastMessagePreview,
		UnreadCount:        &e.UnreadCount,
		Balance:            &e.Balance,
		WinningBalance:     &e.WinningBalance,
	}
	if !e.LastMessageTime.IsZero() {
		t := e.LastMessageTime
		p.LastMessageTime = &t
	}
	return p
}

// Merge overlays the fields present in next onto p.
func (p RosterPatch) Merge(next RosterPatch) RosterPatch {
	if next.EntryID != "" {
		p.EntryID = next.EntryID
	}
	if next.CounterpartyUserID != 0 {
		p.CounterpartyUserID = next.CounterpartyUserID
	}
	if next.DisplayName != nil {
		p.DisplayName = next.DisplayName
	}
	if next.IsOnline != nil {
		p.IsOnline = next.IsOnline
	}
	if next.LastMessagePreview != nil {
		p.LastMessagePreview = next.LastMessagePreview
	}
	if next.LastMessageTime != nil {
		p.LastMessageTime = next.LastMessageTime
	}
	if next.UnreadCount != nil {
		p.UnreadCount = next.UnreadCount
	}
	if next.Balance != nil {
		p.Balance = next.Balance
	}
	if next.WinningBalance != nil {
		p.WinningBalance = next.WinningBalance
	}
	return p
}
