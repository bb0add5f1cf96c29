// Package ledger persists job and step executions in the metadata store.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

var (
	// ErrRunIdentityExists is returned when a job execution already uses the run identity
	ErrRunIdentityExists = errors.New("run identity already used by another execution")
	// ErrNotFound is returned when an execution does not exist
	ErrNotFound = errors.New("execution not found")
	// ErrFinished is returned when updating an execution that already reached a terminal status
	ErrFinished = errors.New("execution already finished")
)

// Ledger is the execution ledger backed by the metadata store
type Ledger struct {
	db  *store.DB
	now func() time.Time
}

// New creates a Ledger and applies its schema to db
func New(ctx context.Context, db *store.DB) (*Ledger, error) {
	if err := db.Migrate(ctx, schema); err != nil {
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Ping verifies the metadata store is reachable
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// CreateJobExecution records a new execution of jobName in STARTING state
func (l *Ledger) CreateJobExecution(ctx context.Context, jobName string, params domain.RunParameters) (*domain.JobExecution, error) {
	identity := params.Identity(jobName)

	exists, err := l.identityExists(ctx, identity)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrRunIdentityExists, identity)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding parameters: %w", err)
	}

	now := l.timestamp()
	exec := &domain.JobExecution{
		JobName:     jobName,
		Identity:    identity,
		Parameters:  params,
		Status:      domain.StatusStarting,
		ExitCode:    domain.StatusStarting.ExitCode(),
		CreatedAt:   now,
		LastUpdated: now,
	}

	err = l.db.QueryRowContext(ctx, `
		INSERT INTO batch_job_execution (job_name, job_key, parameters, status, exit_code, exit_message, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		exec.JobName,
		string(exec.Identity),
		string(paramsJSON),
		string(exec.Status),
		exec.ExitCode,
		exec.ExitMessage,
		exec.CreatedAt,
		exec.LastUpdated,
	).Scan(&exec.ID)
	if err != nil {
		// a concurrent launch may have claimed the key between the check and the insert
		if exists, _ := l.identityExists(ctx, identity); exists {
			return nil, fmt.Errorf("%w: %s", ErrRunIdentityExists, identity)
		}
		return nil, fmt.Errorf("inserting job execution: %w", err)
	}

	return exec, nil
}

// UpdateJobExecution stores status, exit information and times of exec
func (l *Ledger) UpdateJobExecution(ctx context.Context, exec *domain.JobExecution) error {
	exec.LastUpdated = l.timestamp()

	res, err := l.db.ExecContext(ctx, `
		UPDATE batch_job_execution
		SET status = ?, exit_code = ?, exit_message = ?, start_time = ?, end_time = ?, last_updated = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`,
		string(exec.Status),
		exec.ExitCode,
		exec.ExitMessage,
		nullTime(exec.StartTime),
		nullTime(exec.EndTime),
		exec.LastUpdated,
		exec.ID,
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("updating job execution %d: %w", exec.ID, err)
	}
	return l.checkUpdated(ctx, res, "batch_job_execution", exec.ID)
}

// AddStepExecution records a new step execution and assigns its id
func (l *Ledger) AddStepExecution(ctx context.Context, step *domain.StepExecution) error {
	step.LastUpdated = l.timestamp()

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO batch_step_execution (job_execution_id, step_name, status, exit_code, exit_message, start_time, end_time, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		step.JobExecutionID,
		step.StepName,
		string(step.Status),
		step.ExitCode,
		step.ExitMessage,
		nullTime(step.StartTime),
		nullTime(step.EndTime),
		step.LastUpdated,
	).Scan(&step.ID)
	if err != nil {
		return fmt.Errorf("inserting step execution %q: %w", step.StepName, err)
	}
	return nil
}

// UpdateStepExecution stores status, counters and times of step
func (l *Ledger) UpdateStepExecution(ctx context.Context, step *domain.StepExecution) error {
	step.LastUpdated = l.timestamp()

	res, err := l.db.ExecContext(ctx, `
		UPDATE batch_step_execution
		SET status = ?, exit_code = ?, exit_message = ?,
			read_count = ?, write_count = ?, skip_count = ?, filter_count = ?, commit_count = ?, rollback_count = ?,
			start_time = ?, end_time = ?, last_updated = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`,
		string(step.Status),
		step.ExitCode,
		step.ExitMessage,
		step.ReadCount,
		step.WriteCount,
		step.SkipCount,
		step.FilterCount,
		step.CommitCount,
		step.RollbackCount,
		nullTime(step.StartTime),
		nullTime(step.EndTime),
		step.LastUpdated,
		step.ID,
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("updating step execution %d: %w", step.ID, err)
	}
	return l.checkUpdated(ctx, res, "batch_step_execution", step.ID)
}

const jobColumns = `id, job_name, job_key, parameters, status, exit_code, exit_message, created_at, start_time, end_time, last_updated`

const stepColumns = `id, job_execution_id, step_name, status, exit_code, exit_message,
	read_count, write_count, skip_count, filter_count, commit_count, rollback_count,
	start_time, end_time, last_updated`

// GetJobExecution loads an execution with its steps
func (l *Ledger) GetJobExecution(ctx context.Context, id int64) (*domain.JobExecution, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_job_execution WHERE id = ?`, id)
	exec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job execution %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if exec.StepExecutions, err = l.steps(ctx, exec.ID); err != nil {
		return nil, err
	}
	return exec, nil
}

// JobNames returns the names of all jobs that have at least one execution
func (l *Ledger) JobNames(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT job_name FROM batch_job_execution ORDER BY job_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CountExecutions returns how many executions of jobName exist
func (l *Ledger) CountExecutions(ctx context.Context, jobName string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_job_execution WHERE job_name = ?`, jobName).Scan(&n)
	return n, err
}

// RecentExecutions returns up to limit executions of jobName, most recently started first.
// Steps are not loaded.
func (l *Ledger) RecentExecutions(ctx context.Context, jobName string, limit int) ([]*domain.JobExecution, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM batch_job_execution
		WHERE job_name = ?
		ORDER BY COALESCE(start_time, created_at) DESC, id DESC
		LIMIT ?
	`, jobName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*domain.JobExecution
	for rows.Next() {
		exec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// LatestExecution returns the most recent execution of jobName with its steps
func (l *Ledger) LatestExecution(ctx context.Context, jobName string) (*domain.JobExecution, error) {
	execs, err := l.RecentExecutions(ctx, jobName, 1)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, fmt.Errorf("%w: no executions of %s", ErrNotFound, jobName)
	}

	exec := execs[0]
	if exec.StepExecutions, err = l.steps(ctx, exec.ID); err != nil {
		return nil, err
	}
	return exec, nil
}

func (l *Ledger) steps(ctx context.Context, jobExecutionID int64) ([]*domain.StepExecution, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM batch_step_execution WHERE job_execution_id = ? ORDER BY id`, jobExecutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*domain.StepExecution
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (l *Ledger) identityExists(ctx context.Context, identity domain.RunIdentity) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_job_execution WHERE job_key = ?`, string(identity)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking run identity: %w", err)
	}
	return n > 0, nil
}

// checkUpdated distinguishes a missing row from a row already in a terminal status
func (l *Ledger) checkUpdated(ctx context.Context, res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, table, id)
	}
	return fmt.Errorf("%w: %s %d", ErrFinished, table, id)
}

// timestamp returns the current time in UTC; sqlite compares stored times as text
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.JobExecution, error) {
	var exec domain.JobExecution
	var identity, paramsJSON, status string
	var start, end sql.NullTime

	err := row.Scan(&exec.ID, &exec.JobName, &identity, &paramsJSON, &status, &exec.ExitCode, &exec.ExitMessage,
		&exec.CreatedAt, &start, &end, &exec.LastUpdated)
	if err != nil {
		return nil, err
	}

	exec.Identity = domain.RunIdentity(identity)
	exec.Status = domain.BatchStatus(status)
	exec.StartTime = timePtr(start)
	exec.EndTime = timePtr(end)

	if err := json.Unmarshal([]byte(paramsJSON), &exec.Parameters); err != nil {
		return nil, fmt.Errorf("decoding parameters of execution %d: %w", exec.ID, err)
	}
	return &exec, nil
}

func scanStep(row scanner) (*domain.StepExecution, error) {
	var step domain.StepExecution
	var status string
	var start, end sql.NullTime

	err := row.Scan(&step.ID, &step.JobExecutionID, &step.StepName, &status, &step.ExitCode, &step.ExitMessage,
		&step.ReadCount, &step.WriteCount, &step.SkipCount, &step.FilterCount, &step.CommitCount, &step.RollbackCount,
		&start, &end, &step.LastUpdated)
	if err != nil {
		return nil, err
	}

	step.Status = domain.BatchStatus(status)
	step.StartTime = timePtr(start)
	step.EndTime = timePtr(end)
	return &step, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
