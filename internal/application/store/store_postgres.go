package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"schoolreg/internal/application/models"
	"schoolreg/pkg/platform/sentinel"
	txcontext "schoolreg/pkg/platform/tx"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the application schema. Idempotent; used by main on boot
// and by integration tests against a fresh container.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PostgresStore persists applications in PostgreSQL. Status mutations run in
// a transaction with SELECT ... FOR UPDATE, so validate and mutate happen
// while the row is locked, mirroring the in-memory store's mutex semantics.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed application store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const applicationColumns = `id, school_name, year_established, school_type, student_population,
	country, city, address, applicant_name, applicant_email,
	admin_choice, principal_name, principal_email, online_presence, reasons,
	mission_statement, status, version, applicant_verified_at, principal_confirmed_at,
	reviewed_at, reviewed_by, decision_reason, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) querier(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, app *models.Application, submitted models.TimelineEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	onlinePresence, reasons, err := marshalLists(app)
	if err != nil {
		return err
	}

	// Conditional insert keeps the duplicate check and the insert in one
	// statement; a concurrent submit for the same email loses on rows=0.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO applications (id, school_name, year_established, school_type, student_population,
			country, city, address, applicant_name, applicant_email,
			admin_choice, principal_name, principal_email, online_presence, reasons,
			mission_statement, status, version, reviewed_by, decision_reason, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, '', '', $19, $20
		WHERE NOT EXISTS (
			SELECT 1 FROM applications
			WHERE lower(applicant_email) = lower($10)
			  AND status NOT IN ('approved', 'rejected', 'expired')
		)`,
		app.ID, app.SchoolName, app.YearEstablished, app.SchoolType, app.StudentPopulation,
		app.Country, app.City, app.Address, app.ApplicantName, app.ApplicantEmail,
		string(app.AdminChoice.Kind), app.AdminChoice.PrincipalName, app.AdminChoice.PrincipalEmail,
		onlinePresence, reasons,
		app.MissionStatement, string(app.Status), app.Version, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("in-flight application exists for %s: %w",
			models.NormalizedEmail(app.ApplicantEmail), sentinel.ErrConflict)
	}

	if err := insertTimelineEvents(ctx, tx, submitted); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	return scanApplication(row)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Application, int, error) {
	where, args := buildListWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM applications` + where
	if err := s.querier(ctx).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	query := `SELECT ` + applicationColumns + ` FROM applications` + where +
		` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	return apps, total, nil
}

func (s *PostgresStore) ListAwaiting(ctx context.Context) ([]*models.Application, error) {
	rows, err := s.querier(ctx).QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE status IN ($1, $2)`,
		string(models.StatusAwaitingApplicantVerification),
		string(models.StatusAwaitingPrincipalConfirmation))
	if err != nil {
		return nil, fmt.Errorf("list awaiting applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list awaiting applications: %w", err)
	}
	return apps, nil
}

func (s *PostgresStore) Execute(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	validate func(ctx context.Context, app *models.Application) error,
	mutate func(app *models.Application),
	events ...models.TimelineEvent,
) (*models.Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin execute tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id)
	app, err := scanApplication(row)
	if err != nil {
		return nil, err
	}

	// The version guard fires before the terminal guard: a caller holding a
	// stale version must learn its read is stale, even when the competing
	// write made the aggregate terminal.
	if expectedVersion != NoVersionCheck && app.Version != expectedVersion {
		return nil, fmt.Errorf("application %s is at version %d, caller expected %d: %w",
			id, app.Version, expectedVersion, sentinel.ErrConcurrentModification)
	}
	if app.Status.IsTerminal() {
		return nil, fmt.Errorf("application %s is %s: %w", id, app.Status, sentinel.ErrInvalidState)
	}

	// Downstream participants (the token store inside verification
	// transitions) join this transaction through the context.
	if err := validate(txcontext.WithTx(ctx, tx), app); err != nil {
		return nil, err
	}

	priorVersion := app.Version
	mutate(app)
	app.Version = priorVersion + 1

	res, err := tx.ExecContext(ctx, `
		UPDATE applications
		SET status = $2, version = $3,
			applicant_verified_at = $4, principal_confirmed_at = $5,
			reviewed_at = $6, reviewed_by = $7, decision_reason = $8, updated_at = $9
		WHERE id = $1 AND version = $10`,
		app.ID, string(app.Status), app.Version,
		app.ApplicantVerifiedAt, app.PrincipalConfirmedAt,
		app.ReviewedAt, app.ReviewedBy, app.DecisionReason, app.UpdatedAt,
		priorVersion)
	if err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	if rows == 0 {
		// FOR UPDATE should make this unreachable, but a zero-row update must
		// never be treated as success.
		return nil, fmt.Errorf("application %s version moved during update: %w",
			id, sentinel.ErrConcurrentModification)
	}

	if err := insertTimelineEvents(ctx, tx, events...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit execute tx: %w", err)
	}
	return app, nil
}

func (s *PostgresStore) AddNote(ctx context.Context, note models.InternalNote) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO application_notes (id, application_id, admin_id, text, created_at)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM applications WHERE id = $2)`,
		note.ID, note.ApplicationID, note.AdminID, note.Text, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("application %s: %w", note.ApplicationID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListTimeline(ctx context.Context, id uuid.UUID) ([]models.TimelineEvent, error) {
	if err := s.requireApplication(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT id, application_id, event, detail, actor, occurred_at
		FROM application_timeline WHERE application_id = $1
		ORDER BY occurred_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	var events []models.TimelineEvent
	for rows.Next() {
		var ev models.TimelineEvent
		var event string
		if err := rows.Scan(&ev.ID, &ev.ApplicationID, &event, &ev.Detail, &ev.Actor, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Event = models.Event(event)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, id uuid.UUID) ([]models.InternalNote, error) {
	if err := s.requireApplication(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT id, application_id, admin_id, text, created_at
		FROM application_notes WHERE application_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []models.InternalNote
	for rows.Next() {
		var note models.InternalNote
		if err := rows.Scan(&note.ID, &note.ApplicationID, &note.AdminID, &note.Text, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

func (s *PostgresStore) requireApplication(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := s.querier(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check application: %w", err)
	}
	if !exists {
		return fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func insertTimelineEvents(ctx context.Context, q querier, events ...models.TimelineEvent) error {
	for _, ev := range events {
		_, err := q.ExecContext(ctx, `
			INSERT INTO application_timeline (id, application_id, event, detail, actor, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.ID, ev.ApplicationID, string(ev.Event), ev.Detail, ev.Actor, ev.OccurredAt)
		if err != nil {
			return fmt.Errorf("insert timeline event: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app            models.Application
		adminChoice    string
		status         string
		onlinePresence []byte
		reasons        []byte
	)
	err := row.Scan(
		&app.ID, &app.SchoolName, &app.YearEstablished, &app.SchoolType, &app.StudentPopulation,
		&app.Country, &app.City, &app.Address, &app.ApplicantName, &app.ApplicantEmail,
		&adminChoice, &app.AdminChoice.PrincipalName, &app.AdminChoice.PrincipalEmail,
		&onlinePresence, &reasons,
		&app.MissionStatement, &status, &app.Version, &app.ApplicantVerifiedAt, &app.PrincipalConfirmedAt,
		&app.ReviewedAt, &app.ReviewedBy, &app.DecisionReason, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan application: %w", err)
	}
	app.AdminChoice.Kind = models.AdminChoiceKind(adminChoice)
	app.Status = models.Status(status)
	if err := json.Unmarshal(onlinePresence, &app.OnlinePresence); err != nil {
		return nil, fmt.Errorf("decode online presence: %w", err)
	}
	if err := json.Unmarshal(reasons, &app.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	return &app, nil
}

func marshalLists(app *models.Application) ([]byte, []byte, error) {
	onlinePresence, err := json.Marshal(emptyIfNil(app.OnlinePresence))
	if err != nil {
		return nil, nil, fmt.Errorf("encode online presence: %w", err)
	}
	reasons, err := json.Marshal(emptyIfNil(app.Reasons))
	if err != nil {
		return nil, nil, fmt.Errorf("encode reasons: %w", err)
	}
	return onlinePresence, reasons, nil
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func buildListWhere(filter ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Country != "" {
		args = append(args, filter.Country)
		clauses = append(clauses, fmt.Sprintf("lower(country) = lower($%d)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(lower(school_name) LIKE $%d OR lower(applicant_email) LIKE $%d)", n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
