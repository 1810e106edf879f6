package transaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound signals the transaction does not exist.
	ErrNotFound = errors.New("transaction: not found")
	// ErrBuyerNotFound signals the checkout caller does not exist.
	ErrBuyerNotFound = errors.New("transaction: buyer not found")
	// ErrNoValidCartItems signals an empty or fully stale item selection.
	ErrNoValidCartItems = errors.New("transaction: no valid cart items")
	// ErrCartItemsInvalid signals items that do not belong to the buyer's cart.
	ErrCartItemsInvalid = errors.New("transaction: cart items invalid")
	// ErrListingsUnavailable signals listings no longer active at checkout.
	ErrListingsUnavailable = errors.New("transaction: listings unavailable")
	ErrSelfPurchase        = errors.New("transaction: cannot purchase own listing")
)

// DefaultFeeRate is the platform's cut of every transaction amount.
const DefaultFeeRate = 0.05

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the engine.
type Store interface {
	BuyerExists(ctx context.Context, buyerID string) (bool, error)
	ResolveCartItems(ctx context.Context, itemIDs []string) ([]ResolvedItem, error)
	ExecuteSellerGroup(ctx context.Context, tx pgx.Tx, params SellerGroupParams) (Transaction, error)
	ClaimDelivery(ctx context.Context, tx pgx.Tx, transactionID, buyerID string, now time.Time) ([]string, error)
	AppendDeliveryEvent(ctx context.Context, tx pgx.Tx, transactionID, buyerID string) error
	DeliveryFailureReason(ctx context.Context, transactionID, buyerID string) string
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListForUser(ctx context.Context, userID string) ([]Transaction, error)
}

// Decoder opens vault-encoded credential blobs.
type Decoder interface {
	Decode(stored string) (string, error)
}

// Service is the transaction lifecycle engine: checkout and credential
// delivery.
type Service struct {
	pool         TxBeginner
	repo         Store
	vault        Decoder
	feeRate      float64
	escrowWindow time.Duration
	idGen        func() string
	now          func() time.Time
}

// NewService builds the engine. feeRate <= 0 falls back to DefaultFeeRate;
// escrowWindow <= 0 falls back to 24h.
func NewService(pool TxBeginner, repo Store, vault Decoder, feeRate float64, escrowWindow time.Duration) *Service {
	if feeRate <= 0 {
		feeRate = DefaultFeeRate
	}
	if escrowWindow <= 0 {
		escrowWindow = 24 * time.Hour
	}
	return &Service{
		pool:         pool,
		repo:         repo,
		vault:        vault,
		feeRate:      feeRate,
		escrowWindow: escrowWindow,
		idGen:        func() string { return uuid.NewString() },
		now:          time.Now,
	}
}

// Checkout validates the buyer's cart items and converts them into one
// completed transaction per seller. Each seller group commits in its own
// database transaction; a failure partway leaves earlier groups committed
// and is surfaced alongside them.
func (s *Service) Checkout(ctx context.Context, buyerID, paymentMethod string, cartItemIDs []string) ([]Transaction, error) {
	if len(cartItemIDs) == 0 {
		return nil, ErrNoValidCartItems
	}

	exists, err := s.repo.BuyerExists(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrBuyerNotFound
	}

	items, err := s.repo.ResolveCartItems(ctx, cartItemIDs)
	if err != nil {
		return nil, err
	}
	if len(items) != len(cartItemIDs) {
		return nil, ErrNoValidCartItems
	}

	var unavailable []string
	for _, it := range items {
		if it.BuyerID != buyerID {
			return nil, ErrCartItemsInvalid
		}
		if it.ListingStatus != "active" {
			unavailable = append(unavailable, it.ListingTitle)
		}
	}
	if len(unavailable) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrListingsUnavailable, strings.Join(unavailable, ", "))
	}
	for _, it := range items {
		if it.SellerID == buyerID {
			return nil, ErrSelfPurchase
		}
	}

	groups := groupBySeller(items)
	releaseAt := s.now().Add(s.escrowWindow)

	transactions := make([]Transaction, 0, len(groups))
	for _, group := range groups {
		amount := 0.0
		listingIDs := make([]string, 0, len(group.items))
		itemIDs := make([]string, 0, len(group.items))
		for _, it := range group.items {
			amount += it.Price * float64(it.Quantity)
			listingIDs = append(listingIDs, it.ListingID)
			itemIDs = append(itemIDs, it.CartItemID)
		}
		amount = round2(amount)

		rec, err := s.commitSellerGroup(ctx, SellerGroupParams{
			ID:            s.idGen(),
			BuyerID:       buyerID,
			SellerID:      group.sellerID,
			ListingIDs:    listingIDs,
			CartItemIDs:   itemIDs,
			Amount:        amount,
			PlatformFee:   round2(amount * s.feeRate),
			PaymentMethod: paymentMethod,
			EscrowRelease: releaseAt,
		})
		if err != nil {
			return transactions, fmt.Errorf("transaction: seller group %s: %w", group.sellerID, err)
		}
		transactions = append(transactions, rec)
	}

	return transactions, nil
}

func (s *Service) commitSellerGroup(ctx context.Context, params SellerGroupParams) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.ExecuteSellerGroup(ctx, tx, params)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit: %w", err)
	}
	return rec, nil
}

// DeliverCredentials releases the decoded account secrets to the paying
// buyer exactly once. The boolean is false for the collapsed "no delivery"
// outcome, which deliberately does not distinguish not-found, unauthorized,
// incomplete, and already-delivered; the internal reason is logged.
func (s *Service) DeliverCredentials(ctx context.Context, transactionID, buyerID string) (string, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("transaction: begin delivery: %w", err)
	}
	defer tx.Rollback(ctx)

	blobs, err := s.repo.ClaimDelivery(ctx, tx, transactionID, buyerID, s.now())
	if err != nil {
		return "", false, err
	}
	if len(blobs) == 0 {
		log.Printf("transaction: delivery refused for %s: %s", transactionID, s.repo.DeliveryFailureReason(ctx, transactionID, buyerID))
		return "", false, nil
	}

	secrets := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		secret, err := s.vault.Decode(blob)
		if err != nil {
			return "", false, fmt.Errorf("transaction: decode credentials: %w", err)
		}
		secrets = append(secrets, secret)
	}

	if err := s.repo.AppendDeliveryEvent(ctx, tx, transactionID, buyerID); err != nil {
		return "", false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("transaction: commit delivery: %w", err)
	}

	return strings.Join(secrets, "\n"), true, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	return s.repo.GetByID(ctx, id)
}

// ListForUser returns transactions where the user is buyer or seller.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Transaction, error) {
	return s.repo.ListForUser(ctx, userID)
}

type sellerGroup struct {
	sellerID string
	items    []ResolvedItem
}

// groupBySeller partitions resolved items by seller in a deterministic order.
func groupBySeller(items []ResolvedItem) []sellerGroup {
	byID := make(map[string][]ResolvedItem)
	for _, it := range items {
		byID[it.SellerID] = append(byID[it.SellerID], it)
	}

	sellerIDs := make([]string, 0, len(byID))
	for id := range byID {
		sellerIDs = append(sellerIDs, id)
	}
	sort.Strings(sellerIDs)

	groups := make([]sellerGroup, 0, len(sellerIDs))
	for _, id := range sellerIDs {
		groups = append(groups, sellerGroup{sellerID: id, items: byID[id]})
	}
	return groups
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
