package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskos/internal/events"
)

const (
	BalanceChangedType    = "UserAccountsCUD"
	BalanceChangedVersion = 1
)

var ErrBalanceEvent = errors.New("invalid balance event")

// BalanceChanged reports a user's signed userStonks balance before and after
// one posting.
type BalanceChanged struct {
	UserID    string
	Previous  int64
	Current   int64
	Timestamp time.Time
}

func (e BalanceChanged) Delta() int64 {
	return e.Current - e.Previous
}

func BalanceChangedFrom(p Posting) BalanceChanged {
	return BalanceChanged{
		UserID:    p.UserID,
		Previous:  p.Previous.UserStonks.Net(),
		Current:   p.Current.UserStonks.Net(),
		Timestamp: p.Entry.Timestamp,
	}
}

type balanceSnapshot struct {
	Balance int64 `json:"balance"`
}

type wireBalance struct {
	Type      string          `json:"type"`
	Version   int             `json:"version"`
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
	Previous  balanceSnapshot `json:"previous"`
	Current   balanceSnapshot `json:"current"`
}

func EncodeBalanceChanged(e BalanceChanged) ([]byte, error) {
	return json.Marshal(wireBalance{
		Type:      BalanceChangedType,
		Version:   BalanceChangedVersion,
		UserID:    e.UserID,
		Timestamp: e.Timestamp.UnixMilli(),
		Previous:  balanceSnapshot{Balance: e.Previous},
		Current:   balanceSnapshot{Balance: e.Current},
	})
}

func DecodeBalanceChanged(data []byte) (BalanceChanged, error) {
	var w wireBalance
	if err := json.Unmarshal(data, &w); err != nil {
		return BalanceChanged{}, fmt.Errorf("%w: %w", ErrBalanceEvent, err)
	}
	if w.Type != BalanceChangedType {
		return BalanceChanged{}, fmt.Errorf("%w: type %q", ErrBalanceEvent, w.Type)
	}
	if w.Version != BalanceChangedVersion {
		return BalanceChanged{}, fmt.Errorf("%w: version %d", ErrBalanceEvent, w.Version)
	}
	if w.UserID == "" {
		return BalanceChanged{}, fmt.Errorf("%w: missing user id", ErrBalanceEvent)
	}
	return BalanceChanged{
		UserID:    w.UserID,
		Previous:  w.Previous.Balance,
		Current:   w.Current.Balance,
		Timestamp: time.UnixMilli(w.Timestamp),
	}, nil
}

func announce(ctx context.Context, pub events.Publisher, topic string, p Posting) error {
	data, err := EncodeBalanceChanged(BalanceChangedFrom(p))
	if err != nil {
		return err
	}
	return pub.Publish(ctx, events.Message{
		Topic:       topic,
		Key:         p.UserID,
		Data:        data,
		PublishedAt: p.Entry.Timestamp,
	})
}
