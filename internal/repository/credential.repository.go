package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type CredentialRepository struct {
	db *sqlx.DB
}

func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, credential *entity.Credential) error {
	if credential.ID == "" {
		credential.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	credential.CreatedAt = now
	credential.UpdatedAt = now

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(credential.TableName()).
		Columns(
			"id",
			"user_id",
			"venue",
			"encrypted_api_key",
			"encrypted_api_secret",
			"encrypted_passphrase",
			"is_active",
			"last_used_at",
			"test_status",
			"tested_at",
			"created_at",
			"updated_at",
		).
		Values(
			credential.ID,
			credential.UserID,
			credential.Venue,
			credential.EncryptedAPIKey,
			credential.EncryptedAPISecret,
			credential.EncryptedPassphrase,
			credential.IsActive,
			credential.LastUsedAt,
			credential.TestStatus,
			credential.TestedAt,
			credential.CreatedAt,
			credential.UpdatedAt,
		)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *CredentialRepository) GetActiveByUserAndVenue(ctx context.Context, userID, venue string) (*entity.Credential, error) {
	var credential entity.Credential
	err := r.db.GetContext(ctx, &credential,
		"SELECT * FROM credentials WHERE user_id = $1 AND venue = $2 AND is_active = true",
		userID, venue)
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (r *CredentialRepository) GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Credential, error) {
	var credential entity.Credential
	err := r.db.GetContext(ctx, &credential,
		"SELECT * FROM credentials WHERE id = $1 AND user_id = $2",
		id, userID)
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (r *CredentialRepository) ListActiveByUser(ctx context.Context, userID string) ([]entity.Credential, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("credentials").
		Where(sq.Eq{"user_id": userID, "is_active": true}).
		OrderBy("created_at desc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var credentials []entity.Credential
	err = r.db.SelectContext(ctx, &credentials, query, args...)
	if err != nil {
		return nil, err
	}

	return credentials, nil
}

func (r *CredentialRepository) Update(ctx context.Context, credential *entity.Credential) error {
	credential.UpdatedAt = time.Now().UTC()

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(credential.TableName()).
		Set("encrypted_api_key", credential.EncryptedAPIKey).
		Set("encrypted_api_secret", credential.EncryptedAPISecret).
		Set("encrypted_passphrase", credential.EncryptedPassphrase).
		Set("is_active", credential.IsActive).
		Set("last_used_at", credential.LastUsedAt).
		Set("test_status", credential.TestStatus).
		Set("tested_at", credential.TestedAt).
		Set("updated_at", credential.UpdatedAt).
		Where(sq.Eq{"id": credential.ID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *CredentialRepository) Deactivate(ctx context.Context, id string) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("credentials").
		Set("is_active", false).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = $1", id)
	return err
}
