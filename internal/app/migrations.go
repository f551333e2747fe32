package app

import "serotonyl.ru/family-stars/internal/db/postgres"

// SQL-миграции встроены в код для упрощения деплоя.
// Ключи записей семьи составные (owner_id, id): копию можно восстановить
// в другую семью с теми же ID.
var migrations = []postgres.Migration{
	{Version: 1, SQL: migration001Families},
	{Version: 2, SQL: migration002Catalog},
	{Version: 3, SQL: migration003Ledger},
	{Version: 4, SQL: migration004ParentMode},
	{Version: 5, SQL: migration005JournalSeq},
}

var migration001Families = `
CREATE TABLE IF NOT EXISTS families (
    id TEXT PRIMARY KEY,
    chat_id BIGINT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    pin_hash TEXT NOT NULL DEFAULT '',
    settings JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS family_parents (
    family_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (family_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_family_parents_user_id ON family_parents(user_id);
`

var migration002Catalog = `
CREATE TABLE IF NOT EXISTS children (
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    birth_date DATE,
    avatar TEXT NOT NULL DEFAULT '',
    balance BIGINT NOT NULL DEFAULT 0,
    telegram_user_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner_id, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_children_telegram
    ON children(owner_id, telegram_user_id) WHERE telegram_user_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS categories (
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    icon TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    reward_value BIGINT NOT NULL CHECK (reward_value >= 0),
    recurrence_rule TEXT NOT NULL DEFAULT 'ONCE',
    category_id TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS rewards (
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    cost_value BIGINT NOT NULL CHECK (cost_value >= 0),
    category TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT 'UNLIMITED',
    required_task_id TEXT,
    required_task_count INTEGER,
    assigned_to TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner_id, id)
);
`

var migration003Ledger = `
CREATE TABLE IF NOT EXISTS completion_logs (
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    child_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ,
    rejection_reason TEXT,
    PRIMARY KEY (owner_id, id),
    FOREIGN KEY (owner_id, child_id) REFERENCES children(owner_id, id),
    FOREIGN KEY (owner_id, task_id) REFERENCES tasks(owner_id, id)
);
CREATE INDEX IF NOT EXISTS idx_completion_logs_pending
    ON completion_logs(owner_id) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_completion_logs_claim
    ON completion_logs(owner_id, child_id, task_id, completed_at DESC);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    child_id TEXT NOT NULL,
    amount BIGINT NOT NULL,
    type TEXT NOT NULL,
    reference_id TEXT,
    description TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner_id, id),
    FOREIGN KEY (owner_id, child_id) REFERENCES children(owner_id, id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_child
    ON transactions(owner_id, child_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_created_at
    ON transactions(owner_id, created_at DESC);
`

var migration004ParentMode = `
CREATE TABLE IF NOT EXISTS parent_sessions (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    session_token TEXT UNIQUE NOT NULL,
    authenticated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_parent_sessions_user ON parent_sessions(owner_id, user_id);

CREATE TABLE IF NOT EXISTS parent_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    user_id BIGINT NOT NULL,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    success BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_parent_login_attempts_user
    ON parent_login_attempts(owner_id, user_id, attempt_time DESC);
`

// seq — порядок записи в журнал; по нему накопительные награды
// отделяют выполнения до покупки от выполнений после неё.
var migration005JournalSeq = `
ALTER TABLE transactions ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
CREATE INDEX IF NOT EXISTS idx_transactions_redemption
    ON transactions(owner_id, child_id, reference_id, seq) WHERE type = 'REWARD_REDEEMED';
`
