package postgresql

// Definitions are kept in a JSON (not JSONB) column so the editor document,
// node configs included, is returned exactly as it was stored.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused')),
				trigger_type VARCHAR(50) NOT NULL,
				mode VARCHAR(50) NOT NULL,
				version INTEGER NOT NULL,
				document JSON NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_workflows_matching ON workflows(tenant_id, status, trigger_type);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
		`,
		2: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				dedup_key VARCHAR(512) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				entry_node_ids JSONB NOT NULL DEFAULT '[]',
				test_mode BOOLEAN NOT NULL DEFAULT false,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'succeeded', 'failed', 'partially_failed')),
				error_message TEXT,
				steps JSONB NOT NULL DEFAULT '[]',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_executions_dedup ON executions(tenant_id, workflow_id, dedup_key);
			CREATE INDEX idx_executions_tenant_started ON executions(tenant_id, started_at DESC);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_steps ON executions USING GIN (steps jsonb_path_ops);
		`,
	}
}
