package sqlite

const schema = `
-- Pipeline configurations
CREATE TABLE IF NOT EXISTS pipelines (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Validation executions
CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    pipeline_id TEXT NOT NULL,
    feature_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    passed INTEGER NOT NULL DEFAULT 0,
    overall_score REAL NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);

-- Monitoring tick records
CREATE TABLE IF NOT EXISTS monitoring_executions (
    id TEXT PRIMARY KEY,
    config_id TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_monitoring_executions_config ON monitoring_executions(config_id);
CREATE INDEX IF NOT EXISTS idx_monitoring_executions_started_at ON monitoring_executions(started_at);

-- Alerts
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    config_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    status TEXT NOT NULL,
    severity TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_config ON alerts(config_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
`
