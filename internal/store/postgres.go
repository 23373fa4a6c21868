// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notification-pipeline/internal/models"
	"notification-pipeline/internal/tenant"
)

// PostgresStore implements the persistence interfaces on database/sql. Every
// query is scoped to the org bound on the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func orgFromContext(ctx context.Context) (string, error) {
	orgID, ok := tenant.FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no org bound on context")
	}
	return orgID, nil
}

// --- NotificationStore ---

func (s *PostgresStore) Insert(ctx context.Context, record *models.NotificationRecord) error {
	orgID, err := orgFromContext(ctx)
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `INSERT INTO notifications
		(id, org_id, user_id, type, title, body, is_read, push_sent, push_status, error_message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, orgID, record.UserID, string(record.Type), record.Title, record.Body,
		record.IsRead, record.PushSent, string(record.PushStatus), record.ErrorMessage,
		metadata, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, notificationID string, sent bool, status models.PushStatus, errorMessage string) error {
	query := `UPDATE notifications SET push_sent = $2, push_status = $3, error_message = $4 WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, notificationID, sent, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	return nil
}

// --- TokenStore ---

func (s *PostgresStore) FetchActiveByUser(ctx context.Context, userID string) ([]models.PushToken, error) {
	orgID, err := orgFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT user_id, device_id, token, device_type, is_active, last_used_at
		FROM push_tokens WHERE org_id = $1 AND user_id = $2 AND is_active = true`

	rows, err := s.db.QueryContext(ctx, query, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.PushToken
	for rows.Next() {
		var t models.PushToken
		if err := rows.Scan(&t.UserID, &t.DeviceID, &t.Token, &t.DeviceType, &t.IsActive, &t.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *PostgresStore) Deactivate(ctx context.Context, token string) error {
	query := `UPDATE push_tokens SET is_active = false WHERE token = $1`

	_, err := s.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, token *models.PushToken) error {
	orgID, err := orgFromContext(ctx)
	if err != nil {
		return err
	}

	query := `INSERT INTO push_tokens (org_id, user_id, device_id, token, device_type, is_active, last_used_at)
		VALUES ($1, $2, $3, $4, $5, true, $6)
		ON CONFLICT (org_id, user_id, device_id)
		DO UPDATE SET token = $4, device_type = $5, is_active = true, last_used_at = $6`

	_, err = s.db.ExecContext(ctx, query,
		orgID, token.UserID, token.DeviceID, token.Token, token.DeviceType, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert push token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, deviceID string) error {
	orgID, err := orgFromContext(ctx)
	if err != nil {
		return err
	}

	query := `DELETE FROM push_tokens WHERE org_id = $1 AND user_id = $2 AND device_id = $3`

	_, err = s.db.ExecContext(ctx, query, orgID, userID, deviceID)
	if err != nil {
		return fmt.Errorf("delete push token: %w", err)
	}
	return nil
}

// --- PreferenceStore ---

func (s *PostgresStore) FetchOrCreate(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	orgID, err := orgFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT types, enable_push FROM notification_preferences WHERE org_id = $1 AND user_id = $2`

	var typesJSON []byte
	prefs := &models.NotificationPreferences{UserID: userID}
	err = s.db.QueryRowContext(ctx, query, orgID, userID).Scan(&typesJSON, &prefs.EnablePushNotifications)
	if err == nil {
		if err := json.Unmarshal(typesJSON, &prefs.Types); err != nil {
			return nil, fmt.Errorf("unmarshal preference types: %w", err)
		}
		return prefs, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}

	// First read for this user: create and persist the default-enabled
	// record so defaults are not recomputed on every read.
	prefs = models.DefaultPreferences(userID)
	typesJSON, err = json.Marshal(prefs.Types)
	if err != nil {
		return nil, fmt.Errorf("marshal preference types: %w", err)
	}

	insert := `INSERT INTO notification_preferences (org_id, user_id, types, enable_push)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, user_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert, orgID, userID, typesJSON, prefs.EnablePushNotifications); err != nil {
		return nil, fmt.Errorf("create default preferences: %w", err)
	}

	return prefs, nil
}

func (s *PostgresStore) Save(ctx context.Context, prefs *models.NotificationPreferences) error {
	orgID, err := orgFromContext(ctx)
	if err != nil {
		return err
	}

	typesJSON, err := json.Marshal(prefs.Types)
	if err != nil {
		return fmt.Errorf("marshal preference types: %w", err)
	}

	query := `INSERT INTO notification_preferences (org_id, user_id, types, enable_push)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, user_id)
		DO UPDATE SET types = $3, enable_push = $4`

	if _, err := s.db.ExecContext(ctx, query, orgID, prefs.UserID, typesJSON, prefs.EnablePushNotifications); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
