package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cabmarket/internal/types"
)

type Contact struct {
	Name  string
	Email string
	Phone string
}

type ContactBook interface {
	Contact(ctx context.Context, role types.Role, id types.ID) (Contact, error)
}

// Directory reads contact details of customers and vendors.
type Directory struct {
	db *pgxpool.Pool
}

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Contact(ctx context.Context, role types.Role, id types.ID) (Contact, error) {
	var q string
	switch role {
	case types.RoleCustomer:
		q = `SELECT name, email, phone FROM customers WHERE id = $1`
	case types.RoleVendor:
		q = `SELECT name, email, phone FROM vendors WHERE id = $1`
	case types.RoleDriver:
		q = `SELECT name, '', phone FROM drivers WHERE id = $1`
	default:
		return Contact{}, fmt.Errorf("notify: no contacts for role %q", role)
	}
	var c Contact
	err := d.db.QueryRow(ctx, q, string(id)).Scan(&c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, fmt.Errorf("notify: %s %s not found", role, id)
	}
	return c, err
}
