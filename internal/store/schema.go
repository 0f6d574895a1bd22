package store

import (
	"context"
	"fmt"
)

// Schema is applied idempotently at startup. Columns mirror the model types;
// prices and volumes are numeric, the extraction payload is jsonb.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            uuid PRIMARY KEY,
    email         text NOT NULL UNIQUE,
    username      text NOT NULL UNIQUE,
    password_hash text NOT NULL,
    is_active     boolean NOT NULL DEFAULT true,
    created_at    timestamptz NOT NULL DEFAULT now(),
    updated_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS broker_accounts (
    id          uuid PRIMARY KEY,
    user_id     uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    broker_name text NOT NULL,
    login       text NOT NULL,
    server      text NOT NULL,
    created_at  timestamptz NOT NULL DEFAULT now(),
    updated_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_broker_accounts_user ON broker_accounts(user_id);

CREATE TABLE IF NOT EXISTS credentials (
    id                uuid PRIMARY KEY,
    user_id           uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    broker_account_id uuid REFERENCES broker_accounts(id) ON DELETE CASCADE,
    cred_type         text NOT NULL,
    ciphertext        text NOT NULL,
    created_at        timestamptz NOT NULL DEFAULT now(),
    updated_at        timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_key
    ON credentials(user_id, COALESCE(broker_account_id, '00000000-0000-0000-0000-000000000000'::uuid), cred_type);

CREATE TABLE IF NOT EXISTS channel_subscriptions (
    id         uuid PRIMARY KEY,
    user_id    uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    channel_id bigint NOT NULL,
    label      text NOT NULL DEFAULT '',
    is_active  boolean NOT NULL DEFAULT true,
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now(),
    UNIQUE (user_id, channel_id)
);
CREATE INDEX IF NOT EXISTS idx_channel_subscriptions_channel ON channel_subscriptions(channel_id);

CREATE TABLE IF NOT EXISTS signals (
    id           uuid PRIMARY KEY,
    user_id      uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    channel_id   uuid NOT NULL REFERENCES channel_subscriptions(id) ON DELETE CASCADE,
    raw_text     text NOT NULL,
    extracted    jsonb NOT NULL,
    category     text NOT NULL,
    actionable   boolean NOT NULL,
    status       text NOT NULL,
    received_at  timestamptz NOT NULL,
    processed_at timestamptz
);
CREATE INDEX IF NOT EXISTS idx_signals_user ON signals(user_id, received_at DESC);

CREATE TABLE IF NOT EXISTS executions (
    id                uuid PRIMARY KEY,
    user_id           uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    signal_id         uuid NOT NULL REFERENCES signals(id) ON DELETE CASCADE,
    broker_account_id uuid NOT NULL REFERENCES broker_accounts(id) ON DELETE CASCADE,
    symbol            text NOT NULL,
    side              text NOT NULL,
    volume            numeric NOT NULL,
    entry_price       numeric,
    stop_loss         numeric,
    take_profit       numeric,
    actual_entry      numeric,
    actual_entry_time timestamptz,
    close_price       numeric,
    close_time        timestamptz,
    profit_loss       numeric,
    ticket            bigint,
    state             text NOT NULL,
    error             text NOT NULL DEFAULT '',
    executed_at       timestamptz,
    created_at        timestamptz NOT NULL DEFAULT now(),
    updated_at        timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_executions_signal ON executions(signal_id);
CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state);
CREATE INDEX IF NOT EXISTS idx_executions_user ON executions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS preferences (
    user_id            uuid PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    manual_approval    boolean NOT NULL,
    risk_per_trade     numeric NOT NULL,
    max_slippage_pips  numeric NOT NULL,
    default_sl_pips    integer NOT NULL,
    use_limit_orders   boolean NOT NULL,
    max_open_positions integer NOT NULL,
    updated_at         timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscribers (
    id         uuid PRIMARY KEY,
    user_id    uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    address    text NOT NULL,
    label      text NOT NULL DEFAULT '',
    is_active  boolean NOT NULL DEFAULT true,
    created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_subscribers_user ON subscribers(user_id);

CREATE TABLE IF NOT EXISTS audit_events (
    id            uuid PRIMARY KEY,
    user_id       uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    action        text NOT NULL,
    resource_kind text NOT NULL,
    resource_id   uuid,
    details       jsonb,
    client_addr   text NOT NULL DEFAULT '',
    created_at    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id, created_at DESC);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
