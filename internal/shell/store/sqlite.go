package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/reflow/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sqlx.Open("sqlite3", dsn+sep+"_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// Every connection to :memory: is a separate database.
	if strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Project Operations
// =============================================================================

// projectRow represents a project row in the database.
type projectRow struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	RepoURL       string `db:"repo_url"`
	LocalRepoPath string `db:"local_repo_path"`
	AppPort       int    `db:"app_port"`
	NodeVersion   string `db:"node_version"`
	TestDomain    string `db:"test_domain"`
	TestEnvFile   string `db:"test_env_file"`
	ProdDomain    string `db:"prod_domain"`
	ProdEnvFile   string `db:"prod_env_file"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.db, project)
}

func (s *SQLiteStore) GetProject(ctx context.Context, name string) (*domain.Project, error) {
	return getProject(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.db, project)
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return listProjects(ctx, s.db)
}

// =============================================================================
// Environment State Operations
// =============================================================================

// environmentStateRow represents an environment_states row in the database.
type environmentStateRow struct {
	ProjectName     string `db:"project_name"`
	Environment     string `db:"environment"`
	ActiveSlot      string `db:"active_slot"`
	ActiveCommit    string `db:"active_commit"`
	ContainerID     string `db:"container_id"`
	ContainerStatus string `db:"container_status"`
	HostPort        int    `db:"host_port"`
	LastSlot        string `db:"last_slot"`
	LastCommit      string `db:"last_commit"`
	LastContainerID string `db:"last_container_id"`
	UpdatedAt       string `db:"updated_at"`
}

func (s *SQLiteStore) CreateEnvironmentState(ctx context.Context, state *domain.EnvironmentState) error {
	return createEnvironmentState(ctx, s.db, state)
}

func (s *SQLiteStore) GetEnvironmentState(ctx context.Context, project string, env domain.Environment) (*domain.EnvironmentState, error) {
	return getEnvironmentState(ctx, s.db, project, env)
}

func (s *SQLiteStore) SaveEnvironmentState(ctx context.Context, state *domain.EnvironmentState) error {
	return saveEnvironmentState(ctx, s.db, state)
}

func (s *SQLiteStore) ListEnvironmentStates(ctx context.Context) ([]domain.EnvironmentState, error) {
	return listEnvironmentStates(ctx, s.db)
}

// =============================================================================
// Deployment Event Operations
// =============================================================================

// eventRow represents a deployment_events row in the database.
type eventRow struct {
	Seq          int64  `db:"seq"`
	ID           string `db:"id"`
	Timestamp    string `db:"timestamp"`
	EventType    string `db:"event_type"`
	ProjectName  string `db:"project_name"`
	Environment  string `db:"environment"`
	CommitSHA    string `db:"commit_sha"`
	Outcome      string `db:"outcome"`
	ErrorMessage string `db:"error_message"`
	DurationMs   *int64 `db:"duration_ms"`
	TriggeredBy  string `db:"triggered_by"`
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	return appendEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]domain.DeploymentEvent, error) {
	return listEvents(ctx, s.db, filter)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) GetProject(ctx context.Context, name string) (*domain.Project, error) {
	return getProject(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return listProjects(ctx, s.tx)
}

func (s *txSQLiteStore) CreateEnvironmentState(ctx context.Context, state *domain.EnvironmentState) error {
	return createEnvironmentState(ctx, s.tx, state)
}

func (s *txSQLiteStore) GetEnvironmentState(ctx context.Context, project string, env domain.Environment) (*domain.EnvironmentState, error) {
	return getEnvironmentState(ctx, s.tx, project, env)
}

func (s *txSQLiteStore) SaveEnvironmentState(ctx context.Context, state *domain.EnvironmentState) error {
	return saveEnvironmentState(ctx, s.tx, state)
}

func (s *txSQLiteStore) ListEnvironmentStates(ctx context.Context) ([]domain.EnvironmentState, error) {
	return listEnvironmentStates(ctx, s.tx)
}

func (s *txSQLiteStore) AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	return appendEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]domain.DeploymentEvent, error) {
	return listEvents(ctx, s.tx, filter)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Ping(ctx context.Context) error {
	return nil
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createProject(ctx context.Context, exec executor, project *domain.Project) error {
	query := `
		INSERT INTO projects (
			name, repo_url, local_repo_path, app_port, node_version,
			test_domain, test_env_file, prod_domain, prod_env_file,
			created_at, updated_at
		) VALUES (
			:name, :repo_url, :local_repo_path, :app_port, :node_version,
			:test_domain, :test_env_file, :prod_domain, :prod_env_file,
			:created_at, :updated_at
		)`

	row := map[string]any{
		"name":            project.Name,
		"repo_url":        project.RepoURL,
		"local_repo_path": project.LocalRepoPath,
		"app_port":        project.AppPort,
		"node_version":    project.NodeVersion,
		"test_domain":     project.Test.Domain,
		"test_env_file":   project.Test.EnvFile,
		"prod_domain":     project.Prod.Domain,
		"prod_env_file":   project.Prod.EnvFile,
		"created_at":      formatTime(project.CreatedAt),
		"updated_at":      formatTime(project.UpdatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.name") {
			return NewStoreError("CreateProject", "project", project.Name, "project with this name already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateProject", "project", project.Name, err.Error(), err)
	}

	return nil
}

func getProject(ctx context.Context, exec executor, name string) (*domain.Project, error) {
	query := `SELECT * FROM projects WHERE name = ?`

	var row projectRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProject", "project", name, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProject", "project", name, err.Error(), err)
	}

	return rowToProject(&row), nil
}

func updateProject(ctx context.Context, exec executor, project *domain.Project) error {
	query := `
		UPDATE projects SET
			repo_url = :repo_url,
			local_repo_path = :local_repo_path,
			app_port = :app_port,
			node_version = :node_version,
			test_domain = :test_domain,
			test_env_file = :test_env_file,
			prod_domain = :prod_domain,
			prod_env_file = :prod_env_file,
			updated_at = :updated_at
		WHERE name = :name`

	row := map[string]any{
		"name":            project.Name,
		"repo_url":        project.RepoURL,
		"local_repo_path": project.LocalRepoPath,
		"app_port":        project.AppPort,
		"node_version":    project.NodeVersion,
		"test_domain":     project.Test.Domain,
		"test_env_file":   project.Test.EnvFile,
		"prod_domain":     project.Prod.Domain,
		"prod_env_file":   project.Prod.EnvFile,
		"updated_at":      formatTime(project.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateProject", "project", project.Name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateProject", "project", project.Name, "project not found", ErrNotFound)
	}

	return nil
}

func listProjects(ctx context.Context, exec executor) ([]domain.Project, error) {
	query := `SELECT * FROM projects ORDER BY id ASC`

	var rows []projectRow
	if err := exec.SelectContext(ctx, &rows, query); err != nil {
		return nil, NewStoreError("ListProjects", "project", "", err.Error(), err)
	}

	projects := make([]domain.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, *rowToProject(&rows[i]))
	}
	return projects, nil
}

func createEnvironmentState(ctx context.Context, exec executor, state *domain.EnvironmentState) error {
	query := `
		INSERT INTO environment_states (
			project_name, environment, active_slot, active_commit, container_id,
			container_status, host_port, last_slot, last_commit, last_container_id,
			updated_at
		) VALUES (
			:project_name, :environment, :active_slot, :active_commit, :container_id,
			:container_status, :host_port, :last_slot, :last_commit, :last_container_id,
			:updated_at
		)`

	key := state.ProjectName + "/" + string(state.Environment)
	_, err := exec.NamedExecContext(ctx, query, stateToRow(state))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateEnvironmentState", "environment_state", key, "environment state already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateEnvironmentState", "environment_state", key, "project does not exist", ErrForeignKey)
		}
		return NewStoreError("CreateEnvironmentState", "environment_state", key, err.Error(), err)
	}

	return nil
}

func getEnvironmentState(ctx context.Context, exec executor, project string, env domain.Environment) (*domain.EnvironmentState, error) {
	query := `SELECT * FROM environment_states WHERE project_name = ? AND environment = ?`

	key := project + "/" + string(env)
	var row environmentStateRow
	err := exec.GetContext(ctx, &row, query, project, string(env))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetEnvironmentState", "environment_state", key, "environment state not found", ErrNotFound)
		}
		return nil, NewStoreError("GetEnvironmentState", "environment_state", key, err.Error(), err)
	}

	return rowToState(&row), nil
}

func saveEnvironmentState(ctx context.Context, exec executor, state *domain.EnvironmentState) error {
	query := `
		UPDATE environment_states SET
			active_slot = :active_slot,
			active_commit = :active_commit,
			container_id = :container_id,
			container_status = :container_status,
			host_port = :host_port,
			last_slot = :last_slot,
			last_commit = :last_commit,
			last_container_id = :last_container_id,
			updated_at = :updated_at
		WHERE project_name = :project_name AND environment = :environment`

	key := state.ProjectName + "/" + string(state.Environment)
	result, err := exec.NamedExecContext(ctx, query, stateToRow(state))
	if err != nil {
		return NewStoreError("SaveEnvironmentState", "environment_state", key, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("SaveEnvironmentState", "environment_state", key, "environment state not found", ErrNotFound)
	}

	return nil
}

func listEnvironmentStates(ctx context.Context, exec executor) ([]domain.EnvironmentState, error) {
	query := `SELECT * FROM environment_states ORDER BY project_name ASC, environment DESC`

	var rows []environmentStateRow
	if err := exec.SelectContext(ctx, &rows, query); err != nil {
		return nil, NewStoreError("ListEnvironmentStates", "environment_state", "", err.Error(), err)
	}

	states := make([]domain.EnvironmentState, 0, len(rows))
	for i := range rows {
		states = append(states, *rowToState(&rows[i]))
	}
	return states, nil
}

func appendEvent(ctx context.Context, exec executor, event *domain.DeploymentEvent) error {
	query := `
		INSERT INTO deployment_events (
			id, timestamp, event_type, project_name, environment, commit_sha,
			outcome, error_message, duration_ms, triggered_by
		) VALUES (
			:id, :timestamp, :event_type, :project_name, :environment, :commit_sha,
			:outcome, :error_message, :duration_ms, :triggered_by
		)`

	row := map[string]any{
		"id":            event.ID,
		"timestamp":     formatTime(event.Timestamp),
		"event_type":    string(event.EventType),
		"project_name":  event.ProjectName,
		"environment":   string(event.Environment),
		"commit_sha":    event.CommitSHA,
		"outcome":       string(event.Outcome),
		"error_message": event.ErrorMessage,
		"duration_ms":   event.DurationMs,
		"triggered_by":  event.TriggeredBy,
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployment_events.id") {
			return NewStoreError("AppendEvent", "event", event.ID, "event with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("AppendEvent", "event", event.ID, err.Error(), err)
	}

	if seq, err := result.LastInsertId(); err == nil {
		event.Seq = seq
	}
	return nil
}

func listEvents(ctx context.Context, exec executor, filter EventFilter) ([]domain.DeploymentEvent, error) {
	opts := filter.ListOptions.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.ProjectName != "" {
		where = append(where, "project_name = ?")
		args = append(args, filter.ProjectName)
	}
	if filter.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, string(filter.Environment))
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}

	query := `SELECT * FROM deployment_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY timestamp DESC, seq DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []eventRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListEvents", "event", "", err.Error(), err)
	}

	events := make([]domain.DeploymentEvent, 0, len(rows))
	for i := range rows {
		events = append(events, rowToEvent(&rows[i]))
	}
	return events, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToProject converts a database row to a domain.Project.
func rowToProject(row *projectRow) *domain.Project {
	return &domain.Project{
		Name:          row.Name,
		RepoURL:       row.RepoURL,
		LocalRepoPath: row.LocalRepoPath,
		AppPort:       row.AppPort,
		NodeVersion:   row.NodeVersion,
		Test:          domain.EnvironmentConfig{Domain: row.TestDomain, EnvFile: row.TestEnvFile},
		Prod:          domain.EnvironmentConfig{Domain: row.ProdDomain, EnvFile: row.ProdEnvFile},
		CreatedAt:     parseTime(row.CreatedAt),
		UpdatedAt:     parseTime(row.UpdatedAt),
	}
}

func stateToRow(state *domain.EnvironmentState) map[string]any {
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return map[string]any{
		"project_name":      state.ProjectName,
		"environment":       string(state.Environment),
		"active_slot":       string(state.ActiveSlot),
		"active_commit":     state.ActiveCommit,
		"container_id":      state.ContainerID,
		"container_status":  state.ContainerStatus,
		"host_port":         state.HostPort,
		"last_slot":         string(state.LastSlot),
		"last_commit":       state.LastCommit,
		"last_container_id": state.LastContainerID,
		"updated_at":        formatTime(updatedAt),
	}
}

// rowToState converts a database row to a domain.EnvironmentState.
func rowToState(row *environmentStateRow) *domain.EnvironmentState {
	return &domain.EnvironmentState{
		ProjectName:     row.ProjectName,
		Environment:     domain.Environment(row.Environment),
		ActiveSlot:      domain.Slot(row.ActiveSlot),
		ActiveCommit:    row.ActiveCommit,
		ContainerID:     row.ContainerID,
		ContainerStatus: row.ContainerStatus,
		HostPort:        row.HostPort,
		LastSlot:        domain.Slot(row.LastSlot),
		LastCommit:      row.LastCommit,
		LastContainerID: row.LastContainerID,
		UpdatedAt:       parseTime(row.UpdatedAt),
	}
}

// rowToEvent converts a database row to a domain.DeploymentEvent.
func rowToEvent(row *eventRow) domain.DeploymentEvent {
	return domain.DeploymentEvent{
		ID:           row.ID,
		Seq:          row.Seq,
		Timestamp:    parseTime(row.Timestamp),
		EventType:    domain.EventType(row.EventType),
		ProjectName:  row.ProjectName,
		Environment:  domain.Environment(row.Environment),
		CommitSHA:    row.CommitSHA,
		Outcome:      domain.Outcome(row.Outcome),
		ErrorMessage: row.ErrorMessage,
		DurationMs:   row.DurationMs,
		TriggeredBy:  row.TriggeredBy,
	}
}
