package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (r *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const notificationCols = `id, user_id, title, message, type, is_read, target_role,
	action_type, entity_id, entity_type, created_at, updated_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var typ string
	var role *string
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.IsRead, &role,
		&n.ActionType, &n.EntityID, &n.EntityType, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	if role != nil {
		aud := Audience(*role)
		n.TargetRole = &aud
	}
	return &n, nil
}

func (r *storePG) Create(ctx context.Context, n *Notification) error {
	if n.UserID == uuid.Nil {
		return fmt.Errorf("notification requires a user_id")
	}
	n.ID = uuid.New()
	var role *string
	if n.TargetRole != nil {
		s := string(*n.TargetRole)
		role = &s
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, is_read,
			target_role, action_type, entity_id, entity_type)
		VALUES ($1,$2,$3,$4,$5,FALSE,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		n.ID, n.UserID, n.Title, n.Message, string(n.Type),
		role, n.ActionType, n.EntityID, n.EntityType,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (r *storePG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.conn(ctx).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
}

// listQuery builds the WHERE clause shared by the count and page queries.
func listQuery(userID uuid.UUID, f Filter) (string, []interface{}) {
	conds := []string{"user_id = $1"}
	args := []interface{}{userID}

	if f.IsRead != nil {
		args = append(args, *f.IsRead)
		conds = append(conds, fmt.Sprintf("is_read = $%d", len(args)))
	}
	if f.Type != nil {
		args = append(args, string(*f.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.TargetRole != nil {
		args = append(args, string(*f.TargetRole))
		conds = append(conds, fmt.Sprintf("target_role = $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *storePG) ListByUser(ctx context.Context, userID uuid.UUID, f Filter, limit, offset int) ([]*Notification, int, error) {
	where, args := listQuery(userID, f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+notificationCols+` FROM notifications%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *storePG) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, updated_at = NOW() WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *storePG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID).Scan(&count)
	return count, err
}
