package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// lockAccount создаёт счёт лениво и берёт блокировку строки баланса.
// Конкурентные списания одного пользователя сериализуются именно здесь.
func (r *WalletRepo) lockAccount(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_accounts (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return 0, err
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		SELECT balance FROM wallet_accounts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&balance)
	return balance, err
}

func (r *WalletRepo) applyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, txType string, delta, newBalance int64, meta models.Metadata) (*models.WalletTransaction, error) {
	_, err := tx.Exec(ctx, `
		UPDATE wallet_accounts SET balance = $1, updated_at = now() WHERE user_id = $2
	`, newBalance, userID)
	if err != nil {
		return nil, err
	}

	wt := &models.WalletTransaction{
		UserID:       userID,
		Type:         txType,
		Amount:       delta,
		BalanceAfter: newBalance,
		Metadata:     meta,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (user_id, type, amount, balance_after, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, userID, txType, delta, newBalance, meta).Scan(&wt.ID, &wt.CreatedAt)
	if err != nil {
		return nil, err
	}
	return wt, nil
}

// Spend atomically decrements the balance and appends a spend row.
// InsufficientFunds is decided under the row lock, so two concurrent spends
// cannot both pass the balance check.
func (r *WalletRepo) Spend(ctx context.Context, userID uuid.UUID, amount int64, meta models.Metadata) (*models.WalletTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	balance, err := r.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return nil, apperrors.New(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("balance %d is less than %d", balance, amount))
	}

	wt, err := r.applyDelta(ctx, tx, userID, models.TxTypeSpend, -amount, balance-amount, meta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return wt, nil
}

// Transfer moves amount from one user to another: both balance updates and
// both transaction rows commit together or not at all. Accounts are locked
// in UUID order to avoid deadlock between opposing transfers.
func (r *WalletRepo) Transfer(ctx context.Context, fromUserID, toUserID uuid.UUID, amount int64, metaOut, metaIn models.Metadata) (*models.WalletTransaction, *models.WalletTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	first, second := fromUserID, toUserID
	if second.String() < first.String() {
		first, second = second, first
	}
	balances := map[uuid.UUID]int64{}
	for _, id := range []uuid.UUID{first, second} {
		b, err := r.lockAccount(ctx, tx, id)
		if err != nil {
			return nil, nil, err
		}
		balances[id] = b
	}

	if balances[fromUserID] < amount {
		return nil, nil, apperrors.New(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("balance %d is less than %d", balances[fromUserID], amount))
	}

	outTx, err := r.applyDelta(ctx, tx, fromUserID, models.TxTypeTransferOut, -amount, balances[fromUserID]-amount, metaOut)
	if err != nil {
		return nil, nil, err
	}
	inTx, err := r.applyDelta(ctx, tx, toUserID, models.TxTypeTransferIn, amount, balances[toUserID]+amount, metaIn)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return outTx, inTx, nil
}

// AddTokens increments the balance and records a reward row.
func (r *WalletRepo) AddTokens(ctx context.Context, userID uuid.UUID, amount int64, meta models.Metadata) (*models.WalletTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	balance, err := r.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	wt, err := r.applyDelta(ctx, tx, userID, models.TxTypeReward, amount, balance+amount, meta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return wt, nil
}

// GetAccount returns the account, creating it lazily on first access.
func (r *WalletRepo) GetAccount(ctx context.Context, userID uuid.UUID) (*models.WalletAccount, error) {
	var a models.WalletAccount
	err := r.pool.QueryRow(ctx, `
		INSERT INTO wallet_accounts (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, balance, updated_at
	`, userID).Scan(&a.UserID, &a.Balance, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *WalletRepo) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, type, amount, balance_after, metadata, created_at
		FROM wallet_transactions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
