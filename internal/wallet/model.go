package wallet

import "github.com/nexustrade/wallet/internal/ledger"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageRequest selects a page of a wallet's history. Page is zero based. AsOf
// pins the listing to the snapshot returned by an earlier page.
type PageRequest struct {
	Page  int
	Size  int
	Order ledger.Order
	AsOf  int64
}

// Page is one page of history. Total counts every transaction in the snapshot.
type Page struct {
	Items      []ledger.Transaction
	Page       int
	Size       int
	Total      int64
	TotalPages int
	AsOf       int64
	Currency   string
}
