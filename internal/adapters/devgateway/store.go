package devgateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"libres/internal/domain/request"
)

// Store errors
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrEmailTaken       = errors.New("email is already registered")
	ErrRequestNotFound  = errors.New("request not found")
	ErrTokenInvalid     = errors.New("token is invalid")
	ErrTokenExpired     = errors.New("token has expired")
	ErrWrongPassword    = errors.New("incorrect password")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
)

// Email token purposes.
const (
	purposeVerify = "verify"
	purposeReset  = "reset"
)

const timeLayout = time.RFC3339Nano

// Account is a registered portal user on the gateway side.
type Account struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Verified     bool
	CreatedAt    time.Time
}

// SetPassword hashes and stores a password using bcrypt with cost 12.
// PRE: plaintext is >= 8 characters
// POST: PasswordHash is set to bcrypt hash
func (a *Account) SetPassword(plaintext string) error {
	if len(plaintext) < 8 {
		return ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), 12)
	if err != nil {
		return err
	}
	a.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
// INVARIANT: Account fields are not mutated
func (a *Account) CheckPassword(plaintext string) error {
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(plaintext)) != nil {
		return ErrWrongPassword
	}
	return nil
}

// Store persists accounts, email tokens and request records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store and ensures the schema exists.
// PRE: db is a valid database connection
// POST: all tables are created
func NewStore(db *sql.DB) (*Store, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS account (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS email_token (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		purpose TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		expires_at TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (account_id) REFERENCES account(id)
	);

	CREATE TABLE IF NOT EXISTS request (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		admin_note TEXT NOT NULL DEFAULT '',
		activity TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		participants INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (owner_user_id) REFERENCES account(id)
	);

	CREATE INDEX IF NOT EXISTS idx_request_status ON request(status);
	CREATE INDEX IF NOT EXISTS idx_request_owner ON request(owner_user_id);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create devgateway schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateAccount inserts a new account.
// PRE: a.ID and a.PasswordHash are set
// POST: account is persisted, or ErrEmailTaken
func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO account (id, name, email, password_hash, role, verified, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.Name, a.Email, a.PasswordHash, a.Role, boolToInt(a.Verified), a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// SaveAccount upserts an account.
// PRE: a has been validated
// POST: account is persisted (insert or update)
func (s *Store) SaveAccount(ctx context.Context, a Account) error {
	query := `
	INSERT INTO account (id, name, email, password_hash, role, verified, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name=excluded.name,
		email=excluded.email,
		password_hash=excluded.password_hash,
		role=excluded.role,
		verified=excluded.verified`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Email, a.PasswordHash, a.Role, boolToInt(a.Verified), a.CreatedAt.UTC().Format(timeLayout))
	return err
}

// GetAccountByEmail retrieves an account by email.
// PRE: email is non-empty
// POST: Returns the account or ErrAccountNotFound
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, password_hash, role, verified, created_at FROM account WHERE email = ?", email)
	return scanAccount(row)
}

// GetAccountByID retrieves an account by id.
// PRE: id is non-empty
// POST: Returns the account or ErrAccountNotFound
func (s *Store) GetAccountByID(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, password_hash, role, verified, created_at FROM account WHERE id = ?", id)
	return scanAccount(row)
}

// CountAccounts returns the number of accounts, used for first-run seeding.
func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM account").Scan(&n)
	return n, err
}

// CreateEmailToken stores a single-use token for verification or reset.
// PRE: purpose is "verify" or "reset"
// POST: token is persisted with its expiry
func (s *Store) CreateEmailToken(ctx context.Context, id, accountID, purpose, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO email_token (id, account_id, purpose, token, expires_at) VALUES (?, ?, ?, ?, ?)",
		id, accountID, purpose, token, expiresAt.UTC().Format(timeLayout))
	return err
}

// ConsumeEmailToken validates a token and marks it used.
// PRE: purpose matches the flow redeeming the token
// POST: token is single-use from here on; returns the owning account id
func (s *Store) ConsumeEmailToken(ctx context.Context, purpose, token string, now time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var accountID, expiresAt string
	var used int
	err = tx.QueryRowContext(ctx,
		"SELECT account_id, expires_at, used FROM email_token WHERE token = ? AND purpose = ?",
		token, purpose).Scan(&accountID, &expiresAt, &used)
	if err == sql.ErrNoRows {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", err
	}
	if used != 0 {
		return "", ErrTokenInvalid
	}
	exp, err := time.Parse(timeLayout, expiresAt)
	if err != nil || now.After(exp) {
		return "", ErrTokenExpired
	}

	if _, err := tx.ExecContext(ctx, "UPDATE email_token SET used = 1 WHERE token = ?", token); err != nil {
		return "", err
	}
	return accountID, tx.Commit()
}

// SaveRequest upserts a request record.
// PRE: rec has been validated
// POST: record is persisted (insert or update)
func (s *Store) SaveRequest(ctx context.Context, rec request.Record) error {
	query := `
	INSERT INTO request (id, owner_user_id, kind, status, admin_note, activity, starts_at, ends_at, participants, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status=excluded.status,
		admin_note=excluded.admin_note,
		activity=excluded.activity,
		starts_at=excluded.starts_at,
		ends_at=excluded.ends_at,
		participants=excluded.participants`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerUserID, rec.Kind, rec.Status, rec.AdminNote, rec.Activity,
		rec.StartsAt.UTC().Format(timeLayout), rec.EndsAt.UTC().Format(timeLayout),
		rec.Participants, rec.CreatedAt.UTC().Format(timeLayout))
	return err
}

// GetRequest retrieves a request by id.
// PRE: id is non-empty
// POST: Returns the record or ErrRequestNotFound
func (s *Store) GetRequest(ctx context.Context, id string) (request.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner_user_id, kind, status, admin_note, activity, starts_at, ends_at, participants, created_at FROM request WHERE id = ?", id)
	return scanRequest(row)
}

// DeleteRequest removes a request by id.
// PRE: id is non-empty
// POST: record is gone; deleting an absent record is ErrRequestNotFound
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM request WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// ListFilter carries the server-side listing parameters.
type ListFilter struct {
	OwnerUserID string // restrict to one owner; empty means all
	Search      string // case-insensitive substring on activity
	Status      string
	SortColumn  string // whitelisted SQL column
	SortDesc    bool
	StartDate   string // inclusive YYYY-MM-DD bound on starts_at
	EndDate     string
	Limit       int
	Offset      int
}

// ListRequests returns one page of matching records plus the total count.
// PRE: f.SortColumn is one of the whitelisted columns
// POST: Returns at most f.Limit records
func (s *Store) ListRequests(ctx context.Context, f ListFilter) ([]request.Record, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if f.OwnerUserID != "" {
		where = append(where, "owner_user_id = ?")
		args = append(args, f.OwnerUserID)
	}
	if f.Search != "" {
		where = append(where, "LOWER(activity) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.Search)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.StartDate != "" {
		where = append(where, "date(starts_at) >= date(?)")
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		where = append(where, "date(starts_at) <= date(?)")
		args = append(args, f.EndDate)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM request WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	query := fmt.Sprintf(
		"SELECT id, owner_user_id, kind, status, admin_note, activity, starts_at, ends_at, participants, created_at FROM request WHERE %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		cond, f.SortColumn, dir)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []request.Record
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// CountByStatus aggregates request counts per status since cutoff. A zero
// cutoff means all time.
// POST: Returns a map keyed by status
func (s *Store) CountByStatus(ctx context.Context, cutoff time.Time) (map[string]int, error) {
	query := "SELECT status, COUNT(*) FROM request"
	args := []any{}
	if !cutoff.IsZero() {
		query += " WHERE created_at >= ?"
		args = append(args, cutoff.UTC().Format(timeLayout))
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var verified int
	var createdAt string
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Role, &verified, &createdAt)
	if err == sql.ErrNoRows {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.Verified = verified != 0
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return a, nil
}

func scanRequest(row scanner) (request.Record, error) {
	var rec request.Record
	var startsAt, endsAt, createdAt string
	err := row.Scan(&rec.ID, &rec.OwnerUserID, &rec.Kind, &rec.Status, &rec.AdminNote,
		&rec.Activity, &startsAt, &endsAt, &rec.Participants, &createdAt)
	if err == sql.ErrNoRows {
		return request.Record{}, ErrRequestNotFound
	}
	if err != nil {
		return request.Record{}, err
	}
	rec.StartsAt, _ = time.Parse(timeLayout, startsAt)
	rec.EndsAt, _ = time.Parse(timeLayout, endsAt)
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
