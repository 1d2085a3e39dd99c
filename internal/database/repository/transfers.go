package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// TransferFilters defines list filters.
type TransferFilters struct {
	Sender string
	Status string
	Limit  int
}

// TransferRepo handles the transfer journal.
type TransferRepo struct {
	db *sql.DB
}

func NewTransferRepo(db *sql.DB) *TransferRepo { return &TransferRepo{db: db} }

const transferColumns = `id, endpoint, sender, receiver, amount, display_amount, status, block_hash, error, created_at, updated_at`

func (r *TransferRepo) Record(ctx context.Context, t Transfer) error {
	if t.Status == "" {
		t.Status = TransferSubmitted
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transfers(
	 id, endpoint, sender, receiver, amount, display_amount, status, block_hash, error, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`, t.ID, t.Endpoint, t.Sender, t.Receiver, t.Amount, t.DisplayAmount, t.Status, t.BlockHash, t.Error)
	return err
}

// Finish sets the outcome of a recorded transfer.
func (r *TransferRepo) Finish(ctx context.Context, id, status string, blockHash, errMsg *string) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE transfers SET status = ?, block_hash = ?, error = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, status, blockHash, errMsg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *TransferRepo) Get(ctx context.Context, id string) (*Transfer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransferRepo) List(ctx context.Context, f TransferFilters) ([]Transfer, error) {
	var where []string
	var args []interface{}

	if f.Sender != "" {
		where = append(where, "sender = ?")
		args = append(args, f.Sender)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + transferColumns + " FROM transfers"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Receivers returns the distinct receivers sender has sent to, most recent
// first. An empty sender matches every sender.
func (r *TransferRepo) Receivers(ctx context.Context, sender string) ([]string, error) {
	query := `SELECT receiver FROM transfers`
	var args []interface{}
	if sender != "" {
		query += ` WHERE sender = ?`
		args = append(args, sender)
	}
	query += ` GROUP BY receiver ORDER BY MAX(created_at) DESC, MAX(rowid) DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var receiver string
		if err := rows.Scan(&receiver); err != nil {
			return nil, err
		}
		out = append(out, receiver)
	}
	return out, rows.Err()
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row scanner) (Transfer, error) {
	var t Transfer
	var block, errMsg sql.NullString
	if err := row.Scan(&t.ID, &t.Endpoint, &t.Sender, &t.Receiver, &t.Amount, &t.DisplayAmount,
		&t.Status, &block, &errMsg, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transfer{}, err
	}
	if block.Valid {
		t.BlockHash = &block.String
	}
	if errMsg.Valid {
		t.Error = &errMsg.String
	}
	return t, nil
}
