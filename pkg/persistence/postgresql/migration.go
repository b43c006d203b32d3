package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Domain event ledger. Rows are immutable except the two
			-- execution counters and processed_at.
			CREATE TABLE domain_events (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				entity_type VARCHAR(255),
				entity_id VARCHAR(255),
				payload JSONB NOT NULL DEFAULT '{}',
				metadata JSONB,
				triggers_executed INT NOT NULL DEFAULT 0,
				workflows_executed INT NOT NULL DEFAULT 0,
				processed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_domain_events_tenant_type ON domain_events(tenant_id, event_type);
			CREATE INDEX idx_domain_events_entity ON domain_events(entity_type, entity_id);
			CREATE INDEX idx_domain_events_created_at ON domain_events(created_at);

			CREATE TABLE triggers (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				conditions JSONB NOT NULL DEFAULT '[]',
				workflow_id UUID,
				active BOOLEAN NOT NULL DEFAULT true,
				execution_count INT NOT NULL DEFAULT 0,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_tenant_event ON triggers(tenant_id, event_type) WHERE active;

			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				steps JSONB NOT NULL DEFAULT '[]',
				active BOOLEAN NOT NULL DEFAULT true,
				execution_count INT NOT NULL DEFAULT 0,
				success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
				average_execution_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_tenant ON workflows(tenant_id);

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				trigger_id UUID,
				event_id UUID,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				result JSONB,
				error TEXT,
				steps JSONB NOT NULL DEFAULT '[]'
			);

			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_tenant ON workflow_executions(tenant_id, started_at);
		`,
		2: `
			-- Payment boundary: charges consumed by the webhook adapter and
			-- the gateway-delivery idempotency ledger.
			CREATE TABLE payment_charges (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				gateway VARCHAR(100) NOT NULL,
				billing_type VARCHAR(100),
				status VARCHAR(50) NOT NULL,
				external_reference VARCHAR(255) NOT NULL,
				amount_cents BIGINT NOT NULL DEFAULT 0,
				due_date TIMESTAMP WITH TIME ZONE,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_payment_charges_gateway_ref ON payment_charges(gateway, external_reference);
			CREATE INDEX idx_payment_charges_due ON payment_charges(status, due_date);

			CREATE TABLE webhook_events (
				id UUID PRIMARY KEY,
				gateway VARCHAR(100) NOT NULL,
				gateway_event_id VARCHAR(255) NOT NULL,
				outcome VARCHAR(100) NOT NULL,
				received_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- The uniqueness constraint is what makes check-and-mark atomic
			-- under concurrent deliveries of the same gateway event.
			CREATE UNIQUE INDEX idx_webhook_events_dedup ON webhook_events(gateway, gateway_event_id);
		`,
	}
}
