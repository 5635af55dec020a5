package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type TradeRepository struct {
	db *sqlx.DB
}

func NewTradeRepository(db *sqlx.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) Create(ctx context.Context, trade *entity.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	trade.CreatedAt = now
	trade.UpdatedAt = now

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(trade.TableName()).
		Columns(
			"id",
			"user_id",
			"venue",
			"symbol",
			"type",
			"side",
			"amount",
			"price",
			"filled_amount",
			"avg_fill_price",
			"total_cost",
			"fee_amount",
			"fee_currency",
			"status",
			"exchange_order_id",
			"error_message",
			"created_at",
			"updated_at",
			"executed_at",
			"cancelled_at",
		).
		Values(
			trade.ID,
			trade.UserID,
			trade.Venue,
			trade.Symbol,
			trade.Type,
			trade.Side,
			trade.Amount,
			trade.Price,
			trade.FilledAmount,
			trade.AvgFillPrice,
			trade.TotalCost,
			trade.FeeAmount,
			trade.FeeCurrency,
			trade.Status,
			trade.ExchangeOrderID,
			trade.ErrorMessage,
			trade.CreatedAt,
			trade.UpdatedAt,
			trade.ExecutedAt,
			trade.CancelledAt,
		)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *TradeRepository) GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Trade, error) {
	var trade entity.Trade
	err := r.db.GetContext(ctx, &trade,
		"SELECT * FROM trades WHERE id = $1 AND user_id = $2",
		id, userID)
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *TradeRepository) ListByUser(ctx context.Context, userID string) ([]entity.Trade, error) {
	return r.list(ctx, sq.Eq{"user_id": userID})
}

func (r *TradeRepository) ListByUserAndVenue(ctx context.Context, userID, venue string) ([]entity.Trade, error) {
	return r.list(ctx, sq.Eq{"user_id": userID, "venue": venue})
}

func (r *TradeRepository) list(ctx context.Context, where sq.Eq) ([]entity.Trade, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("trades").
		Where(where).
		OrderBy("created_at desc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var trades []entity.Trade
	err = r.db.SelectContext(ctx, &trades, query, args...)
	if err != nil {
		return nil, err
	}

	return trades, nil
}

func (r *TradeRepository) Update(ctx context.Context, trade *entity.Trade) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(trade.TableName()).
		Set("filled_amount", trade.FilledAmount).
		Set("avg_fill_price", trade.AvgFillPrice).
		Set("total_cost", trade.TotalCost).
		Set("fee_amount", trade.FeeAmount).
		Set("fee_currency", trade.FeeCurrency).
		Set("status", trade.Status).
		Set("exchange_order_id", trade.ExchangeOrderID).
		Set("error_message", trade.ErrorMessage).
		Set("updated_at", trade.UpdatedAt).
		Set("executed_at", trade.ExecutedAt).
		Set("cancelled_at", trade.CancelledAt).
		Where(sq.Eq{"id": trade.ID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// GetFilledVolumeSince sums the total cost of FILLED trades created at
// or after since. Used by the daily volume limit check.
func (r *TradeRepository) GetFilledVolumeSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var volume decimal.Decimal
	err := r.db.GetContext(ctx, &volume,
		"SELECT COALESCE(SUM(total_cost), 0) FROM trades WHERE user_id = $1 AND status = $2 AND created_at >= $3",
		userID, entity.TradeStatusFilled, since)
	if err != nil {
		return decimal.Zero, err
	}

	return volume, nil
}
