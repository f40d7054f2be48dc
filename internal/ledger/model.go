package ledger

import (
	"errors"
	"fmt"
	"time"
)

type Book string

const (
	CompanyStonks Book = "companyStonks"
	UserStonks    Book = "userStonks"
	MagicRevenue  Book = "magicRevenue"
)

type AccountType int

const (
	Asset AccountType = iota
	Liability
	Revenue
)

type Side int

const (
	Debit Side = iota
	Credit
)

type Effect int

const (
	Increase Effect = iota
	Decrease
)

var (
	ErrNegativeAmount = errors.New("amount must be >= 0")
	ErrInvalidEntry   = errors.New("invalid movement entry")
	ErrUnknownBook    = errors.New("unknown book")
)

func (b Book) AccountType() (AccountType, error) {
	switch b {
	case CompanyStonks:
		return Asset, nil
	case UserStonks:
		return Liability, nil
	case MagicRevenue:
		return Revenue, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBook, string(b))
	}
}

// EffectOf is the debit/credit table: assets grow on debit, liabilities
// and revenue grow on credit.
func EffectOf(t AccountType, side Side) Effect {
	if t == Asset {
		if side == Debit {
			return Increase
		}
		return Decrease
	}
	if side == Debit {
		return Decrease
	}
	return Increase
}

type Kind string

const (
	KindPenalty Kind = "penalty"
	KindReward  Kind = "reward"
	KindPayout  Kind = "payout"
)

type Entry struct {
	Debit     Book              `json:"debit"`
	Credit    Book              `json:"credit"`
	Amount    int64             `json:"amount"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Kind reports which of the three legal shapes e has.
func (e Entry) Kind() (Kind, bool) {
	switch {
	case e.Debit == UserStonks && e.Credit == CompanyStonks:
		return KindPenalty, true
	case e.Debit == CompanyStonks && e.Credit == UserStonks:
		return KindReward, true
	case e.Debit == UserStonks && e.Credit == MagicRevenue:
		return KindPayout, true
	default:
		return "", false
	}
}

func (e Entry) Validate() error {
	if e.Amount < 0 {
		return ErrNegativeAmount
	}
	if _, ok := e.Kind(); !ok {
		return fmt.Errorf("%w: debit %s credit %s", ErrInvalidEntry, e.Debit, e.Credit)
	}
	return nil
}

type Bucket struct {
	Increase int64 `json:"increase"`
	Decrease int64 `json:"decrease"`
}

func (b Bucket) Net() int64 {
	return b.Increase - b.Decrease
}

// Books holds the running totals of one user's shelf.
type Books struct {
	CompanyStonks Bucket `json:"companyStonks"`
	UserStonks    Bucket `json:"userStonks"`
	MagicRevenue  Bucket `json:"magicRevenue"`
}

func (bs *Books) bucket(b Book) *Bucket {
	switch b {
	case CompanyStonks:
		return &bs.CompanyStonks
	case UserStonks:
		return &bs.UserStonks
	case MagicRevenue:
		return &bs.MagicRevenue
	default:
		return nil
	}
}

func (bs Books) Get(b Book) Bucket {
	if p := bs.bucket(b); p != nil {
		return *p
	}
	return Bucket{}
}

// Reflect returns bs with e folded in. e must already be valid.
func (bs Books) Reflect(e Entry) Books {
	apply := func(b Book, side Side) {
		t, err := b.AccountType()
		if err != nil {
			return
		}
		p := bs.bucket(b)
		if EffectOf(t, side) == Increase {
			p.Increase += e.Amount
		} else {
			p.Decrease += e.Amount
		}
	}
	apply(e.Debit, Debit)
	apply(e.Credit, Credit)
	return bs
}

// DebitBalance sums every book's balance measured on the debit side. A shelf
// built only from two-legged entries always sums to zero.
func (bs Books) DebitBalance() int64 {
	var total int64
	for _, b := range []Book{CompanyStonks, UserStonks, MagicRevenue} {
		t, _ := b.AccountType()
		bucket := bs.Get(b)
		if EffectOf(t, Debit) == Increase {
			total += bucket.Net()
		} else {
			total -= bucket.Net()
		}
	}
	return total
}

// Outstanding is what the company owes the user, never below zero.
func (bs Books) Outstanding() int64 {
	if n := bs.UserStonks.Net(); n > 0 {
		return n
	}
	return 0
}
