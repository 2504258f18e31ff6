package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
	"agri-ledger/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type EscrowService struct {
	ledger *Ledger
	store  store.Store
	logger zerolog.Logger
}

func NewEscrowService(ledger *Ledger) *EscrowService {
	return &EscrowService{
		ledger: ledger,
		store:  ledger.store,
		logger: ledger.logger.With().Str("service", "escrow").Logger(),
	}
}

func escrowExists(orderID string) error {
	return apperr.Duplicate(
		fmt.Sprintf("escrow already exists for order %s", orderID),
		"يوجد ضمان مسبق لهذا الطلب")
}

// CreateEscrow moves amount from the buyer's available balance into escrow for an order.
func (s *EscrowService) CreateEscrow(ctx context.Context, req models.CreateEscrowRequest, opts models.MoneyOptions) (*models.EscrowResult, error) {
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, apperr.InvalidInput("order id is required", "معرف الطلب مطلوب")
	}
	if req.BuyerWalletID == req.SellerWalletID {
		return nil, apperr.InvalidInput("buyer and seller must be different wallets", "يجب أن يكون المشتري والبائع محفظتين مختلفتين")
	}
	if res, err := s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeEscrowHold); res != nil || err != nil {
		return res, err
	}

	var res models.EscrowResult
	j, err := s.ledger.run(ctx, "escrow_create", func(ctx context.Context, tx store.Tx, j *journal) error {
		if _, err := tx.GetEscrowByOrderID(ctx, req.OrderID); err == nil {
			return escrowExists(req.OrderID)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		buyer, err := tx.LockWalletForUpdate(ctx, req.BuyerWalletID)
		if err != nil {
			return err
		}
		if buyer.Balance.LessThan(req.Amount) {
			return apperr.InsufficientFunds()
		}
		seller, err := tx.GetWallet(ctx, req.SellerWalletID)
		if err != nil {
			return err
		}

		now := s.ledger.now()
		e := &models.Escrow{
			ID:             uuid.NewString(),
			OrderID:        req.OrderID,
			BuyerWalletID:  buyer.ID,
			SellerWalletID: seller.ID,
			Amount:         req.Amount,
			Status:         models.EscrowStatusHeld,
			Notes:          optional(req.Notes),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateEscrow(ctx, e); err != nil {
			var uv *store.UniqueViolation
			if errors.As(err, &uv) && uv.Constraint == store.ConstraintEscrowOrder {
				return escrowExists(req.OrderID)
			}
			return err
		}

		before := *buyer
		buyer.Balance = buyer.Balance.Sub(req.Amount)
		buyer.EscrowBalance = buyer.EscrowBalance.Add(req.Amount)

		t, err := s.ledger.apply(ctx, tx, j, buyer, before, entry{
			txType:        models.TransactionTypeEscrowHold,
			amount:        req.Amount.Neg(),
			operation:     models.AuditOpEscrowHold,
			referenceType: models.ReferenceTypeEscrow,
			referenceID:   e.ID,
			description:   orDefault(opts.Description, fmt.Sprintf("Escrow hold for order %s", req.OrderID)),
			descriptionAr: "حجز مبلغ في الضمان للطلب " + req.OrderID,
			withKey:       true,
			opts:          opts,
			metadata:      models.Metadata{"order_id": req.OrderID, "seller_wallet_id": seller.ID},
		})
		if err != nil {
			return err
		}

		res = models.EscrowResult{Escrow: e, Buyer: buyer, Seller: seller, Transactions: []*models.Transaction{t}}
		return nil
	})
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeEscrowHold)
		}
		s.logger.Warn().Err(err).Str("order_id", req.OrderID).Msg("Escrow creation rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transactions[0], j)
	s.logger.Info().
		Str("escrow_id", res.Escrow.ID).
		Str("order_id", req.OrderID).
		Str("amount", req.Amount.String()).
		Msg("Escrow held")
	return &res, nil
}

// ReleaseEscrow pays the held amount to the seller and records a completed order on the
// seller's credit history.
func (s *EscrowService) ReleaseEscrow(ctx context.Context, escrowID, notes string, opts models.MoneyOptions) (*models.EscrowResult, error) {
	if res, err := s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeEscrowRelease); res != nil || err != nil {
		return res, err
	}

	var res models.EscrowResult
	j, err := s.ledger.run(ctx, "escrow_release", func(ctx context.Context, tx store.Tx, j *journal) error {
		e, err := tx.GetEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if !e.Status.CanRelease() {
			return apperr.IllegalState(
				fmt.Sprintf("escrow is %s and cannot be released", e.Status),
				"لا يمكن تحرير الضمان في حالته الحالية")
		}

		wallets, err := lockWallets(ctx, tx, e.BuyerWalletID, e.SellerWalletID)
		if err != nil {
			return err
		}
		buyer, seller := wallets[e.BuyerWalletID], wallets[e.SellerWalletID]
		if buyer.EscrowBalance.LessThan(e.Amount) {
			return apperr.InsufficientEscrow()
		}

		now := s.ledger.now()
		e.Status = models.EscrowStatusReleased
		e.ReleasedAt = &now
		e.Notes = appendNote(e.Notes, notes)
		e.UpdatedAt = now
		if err := tx.UpdateEscrow(ctx, e); err != nil {
			return err
		}

		buyerBefore := *buyer
		buyer.EscrowBalance = buyer.EscrowBalance.Sub(e.Amount)
		releaseTx, err := s.ledger.apply(ctx, tx, j, buyer, buyerBefore, entry{
			txType:        models.TransactionTypeEscrowRelease,
			amount:        decimal.Zero,
			operation:     models.AuditOpEscrowRelease,
			referenceType: models.ReferenceTypeEscrow,
			referenceID:   e.ID,
			description:   orDefault(opts.Description, fmt.Sprintf("Escrow released for order %s", e.OrderID)),
			descriptionAr: "تحرير الضمان للطلب " + e.OrderID,
			withKey:       true,
			opts:          opts,
			metadata:      models.Metadata{"order_id": e.OrderID, "released": e.Amount.String()},
		})
		if err != nil {
			return err
		}

		sellerBefore := *seller
		seller.Balance = seller.Balance.Add(e.Amount)
		saleTx, err := s.ledger.apply(ctx, tx, j, seller, sellerBefore, entry{
			txType:        models.TransactionTypeMarketplaceSale,
			amount:        e.Amount,
			operation:     models.AuditOpEscrowCredit,
			referenceType: models.ReferenceTypeEscrow,
			referenceID:   e.ID,
			description:   fmt.Sprintf("Sale proceeds for order %s", e.OrderID),
			descriptionAr: "عائدات بيع الطلب " + e.OrderID,
			opts:          opts,
			metadata:      models.Metadata{"order_id": e.OrderID, "buyer_wallet_id": buyer.ID},
		})
		if err != nil {
			return err
		}

		if _, err := s.ledger.applyCreditEvent(ctx, tx, j, seller, models.CreditEventRequest{
			WalletID:    seller.ID,
			EventType:   models.CreditEventOrderCompleted,
			Amount:      decimal.NewNullDecimal(e.Amount),
			Description: fmt.Sprintf("Order %s completed", e.OrderID),
			Metadata:    models.Metadata{"escrow_id": e.ID, "order_id": e.OrderID},
		}, models.AuditOpCreditScore, opts); err != nil {
			return err
		}

		res = models.EscrowResult{Escrow: e, Buyer: buyer, Seller: seller, Transactions: []*models.Transaction{releaseTx, saleTx}}
		return nil
	})
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeEscrowRelease)
		}
		s.logger.Warn().Err(err).Str("escrow_id", escrowID).Msg("Escrow release rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transactions[0], j)
	s.logger.Info().
		Str("escrow_id", escrowID).
		Str("seller_wallet_id", res.Seller.ID).
		Str("amount", res.Escrow.Amount.String()).
		Msg("Escrow released")
	return &res, nil
}

// RefundEscrow returns the held amount to the buyer and records a cancelled order against
// the seller.
func (s *EscrowService) RefundEscrow(ctx context.Context, escrowID, reason string, opts models.MoneyOptions) (*models.EscrowResult, error) {
	if res, err := s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeEscrowRefund); res != nil || err != nil {
		return res, err
	}

	var res models.EscrowResult
	j, err := s.ledger.run(ctx, "escrow_refund", func(ctx context.Context, tx store.Tx, j *journal) error {
		e, err := tx.GetEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if !e.Status.CanRefund() {
			return apperr.IllegalState(
				fmt.Sprintf("escrow is %s and cannot be refunded", e.Status),
				"لا يمكن استرداد الضمان في حالته الحالية")
		}

		// The seller is locked too because the cancellation changes their credit score.
		wallets, err := lockWallets(ctx, tx, e.BuyerWalletID, e.SellerWalletID)
		if err != nil {
			return err
		}
		buyer, seller := wallets[e.BuyerWalletID], wallets[e.SellerWalletID]
		if buyer.EscrowBalance.LessThan(e.Amount) {
			return apperr.InsufficientEscrow()
		}

		now := s.ledger.now()
		e.Status = models.EscrowStatusRefunded
		e.RefundedAt = &now
		if reason != "" {
			e.DisputeReason = &reason
		}
		e.UpdatedAt = now
		if err := tx.UpdateEscrow(ctx, e); err != nil {
			return err
		}

		before := *buyer
		buyer.Balance = buyer.Balance.Add(e.Amount)
		buyer.EscrowBalance = buyer.EscrowBalance.Sub(e.Amount)
		t, err := s.ledger.apply(ctx, tx, j, buyer, before, entry{
			txType:        models.TransactionTypeEscrowRefund,
			amount:        e.Amount,
			operation:     models.AuditOpEscrowRefund,
			referenceType: models.ReferenceTypeEscrow,
			referenceID:   e.ID,
			description:   orDefault(opts.Description, fmt.Sprintf("Escrow refunded for order %s", e.OrderID)),
			descriptionAr: "استرداد الضمان للطلب " + e.OrderID,
			withKey:       true,
			opts:          opts,
			metadata:      models.Metadata{"order_id": e.OrderID, "reason": reason},
		})
		if err != nil {
			return err
		}

		if _, err := s.ledger.applyCreditEvent(ctx, tx, j, seller, models.CreditEventRequest{
			WalletID:    seller.ID,
			EventType:   models.CreditEventOrderCancelled,
			Amount:      decimal.NewNullDecimal(e.Amount),
			Description: fmt.Sprintf("Order %s cancelled", e.OrderID),
			Metadata:    models.Metadata{"escrow_id": e.ID, "order_id": e.OrderID, "reason": reason},
		}, models.AuditOpCreditScore, opts); err != nil {
			return err
		}

		res = models.EscrowResult{Escrow: e, Buyer: buyer, Seller: seller, Transactions: []*models.Transaction{t}}
		return nil
	})
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeEscrowRefund)
		}
		s.logger.Warn().Err(err).Str("escrow_id", escrowID).Msg("Escrow refund rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transactions[0], j)
	s.logger.Info().
		Str("escrow_id", escrowID).
		Str("buyer_wallet_id", res.Buyer.ID).
		Str("amount", res.Escrow.Amount.String()).
		Msg("Escrow refunded")
	return &res, nil
}

// DisputeEscrow freezes a held escrow until it is released or refunded. No money moves.
func (s *EscrowService) DisputeEscrow(ctx context.Context, escrowID, reason string) (*models.Escrow, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.InvalidInput("a dispute reason is required", "سبب النزاع مطلوب")
	}

	var out *models.Escrow
	_, err := s.ledger.run(ctx, "escrow_dispute", func(ctx context.Context, tx store.Tx, _ *journal) error {
		e, err := tx.GetEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if e.Status != models.EscrowStatusHeld {
			return apperr.IllegalState(
				fmt.Sprintf("only held escrows can be disputed, escrow is %s", e.Status),
				"لا يمكن فتح نزاع إلا على ضمان محجوز")
		}
		e.Status = models.EscrowStatusDisputed
		e.DisputeReason = &reason
		e.UpdatedAt = s.ledger.now()
		if err := tx.UpdateEscrow(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("escrow_id", escrowID).Str("reason", reason).Msg("Escrow disputed")
	return out, nil
}

func (s *EscrowService) GetEscrow(ctx context.Context, escrowID string) (*models.Escrow, error) {
	return s.store.GetEscrow(ctx, escrowID)
}

func (s *EscrowService) GetEscrowByOrder(ctx context.Context, orderID string) (*models.Escrow, error) {
	return s.store.GetEscrowByOrderID(ctx, orderID)
}

func (s *EscrowService) GetWalletEscrows(ctx context.Context, walletID string) ([]*models.Escrow, error) {
	return s.store.ListEscrowsByWallet(ctx, walletID)
}

func (s *EscrowService) replay(ctx context.Context, key string, typ models.TransactionType) (*models.EscrowResult, error) {
	prior, err := s.ledger.priorTransaction(ctx, key, typ)
	if err != nil || prior == nil {
		return nil, err
	}
	e, err := s.store.GetEscrow(ctx, deref(prior.ReferenceID))
	if err != nil {
		return nil, err
	}
	buyer, err := s.store.GetWallet(ctx, e.BuyerWalletID)
	if err != nil {
		return nil, err
	}
	seller, err := s.store.GetWallet(ctx, e.SellerWalletID)
	if err != nil {
		return nil, err
	}

	txns := []*models.Transaction{prior}
	if typ == models.TransactionTypeEscrowRelease {
		related, err := s.store.ListTransactionsByReference(ctx, models.ReferenceTypeEscrow, e.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range related {
			if t.Type == models.TransactionTypeMarketplaceSale {
				txns = append(txns, t)
			}
		}
	}

	s.logger.Info().Str("idempotency_key", key).Str("escrow_id", e.ID).Msg("Duplicate request replayed")
	return &models.EscrowResult{Escrow: e, Buyer: buyer, Seller: seller, Transactions: txns, Duplicate: true}, nil
}

func appendNote(existing *string, note string) *string {
	if note == "" {
		return existing
	}
	if existing == nil || *existing == "" {
		return &note
	}
	joined := *existing + "\n" + note
	return &joined
}
