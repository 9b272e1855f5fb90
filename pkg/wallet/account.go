// Package wallet implements account balances and the money movements
// between them.
//
// Every balance change happens inside a store transaction together with the
// record that explains it. Transfers lock both accounts in ascending id
// order, re-check the balance read under the lock and retry the whole
// transaction when the store reports a conflict.
package wallet

import (
	"strings"
	"time"

	"quickpe/pkg/money"

	"github.com/google/uuid"
)

// Account is a balance holder owned by exactly one user.
type Account struct {
	ID        uuid.UUID    `json:"id"`
	QuickPeID string       `json:"quickpeId"`
	OwnerName string       `json:"name"`
	Email     string       `json:"email"`
	Balance   money.Amount `json:"balance"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Kind tells transfers and deposits apart.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindDeposit  Kind = "deposit"
)

// Record is the immutable log entry written with every committed balance
// change. Deposits have a nil From.
type Record struct {
	ID             uuid.UUID
	TransactionID  string
	From           uuid.UUID
	To             uuid.UUID
	Amount         money.Amount
	Kind           Kind
	Description    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// EntryType is the direction of a record as seen by one account.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// ParseEntryType accepts "credit", "debit" or an empty string meaning both.
func ParseEntryType(s string) (EntryType, error) {
	switch t := EntryType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", EntryCredit, EntryDebit:
		return t, nil
	default:
		return "", ErrInvalidRequest
	}
}

// Entry is a Record resolved for a viewer.
type Entry struct {
	TransactionID string       `json:"transactionId"`
	Type          EntryType    `json:"type"`
	Kind          Kind         `json:"kind"`
	Amount        money.Amount `json:"amount"`
	OtherParty    uuid.UUID    `json:"otherParty"`
	Description   string       `json:"description"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// EntryFor resolves r from the point of view of account.
func (r Record) EntryFor(account uuid.UUID) Entry {
	e := Entry{
		TransactionID: r.TransactionID,
		Type:          EntryCredit,
		Kind:          r.Kind,
		Amount:        r.Amount,
		OtherParty:    r.From,
		Description:   r.Description,
		CreatedAt:     r.CreatedAt,
	}
	if r.Kind == KindTransfer && r.From == account {
		e.Type = EntryDebit
		e.OtherParty = r.To
	}
	return e
}

// Involves reports whether account is a party to r.
func (r Record) Involves(account uuid.UUID) bool {
	return r.To == account || (r.From != uuid.Nil && r.From == account)
}

// Summary aggregates an account's records since a point in time.
type Summary struct {
	Sent     money.Amount `json:"sent"`
	Received money.Amount `json:"received"`
	Count    int          `json:"count"`
	Since    time.Time    `json:"since"`
}

// Add folds r into s as seen by account.
func (s *Summary) Add(r Record, account uuid.UUID) {
	if r.EntryFor(account).Type == EntryDebit {
		s.Sent += r.Amount
	} else {
		s.Received += r.Amount
	}
	s.Count++
}
