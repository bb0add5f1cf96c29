package ledger

const schema = `
CREATE TABLE IF NOT EXISTS batch_job_execution (
    id {{id}},
    job_name TEXT NOT NULL,
    job_key TEXT NOT NULL UNIQUE,
    parameters TEXT NOT NULL,
    status TEXT NOT NULL,
    exit_code TEXT NOT NULL,
    exit_message TEXT NOT NULL DEFAULT '',
    created_at {{timestamp}} NOT NULL,
    start_time {{timestamp}},
    end_time {{timestamp}},
    last_updated {{timestamp}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_execution_name ON batch_job_execution(job_name);

CREATE TABLE IF NOT EXISTS batch_step_execution (
    id {{id}},
    job_execution_id BIGINT NOT NULL REFERENCES batch_job_execution(id),
    step_name TEXT NOT NULL,
    status TEXT NOT NULL,
    exit_code TEXT NOT NULL,
    exit_message TEXT NOT NULL DEFAULT '',
    read_count BIGINT NOT NULL DEFAULT 0,
    write_count BIGINT NOT NULL DEFAULT 0,
    skip_count BIGINT NOT NULL DEFAULT 0,
    filter_count BIGINT NOT NULL DEFAULT 0,
    commit_count BIGINT NOT NULL DEFAULT 0,
    rollback_count BIGINT NOT NULL DEFAULT 0,
    start_time {{timestamp}},
    end_time {{timestamp}},
    last_updated {{timestamp}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_step_execution_job ON batch_step_execution(job_execution_id);
`
