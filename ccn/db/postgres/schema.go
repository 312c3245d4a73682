package postgres

// schema is applied on every Open. Statements are idempotent so upgraded
// nodes converge without a migration tool.
const schema = `
CREATE TABLE IF NOT EXISTS chain_txs (
    hash             TEXT PRIMARY KEY,
    chain            TEXT NOT NULL,
    height           BIGINT NOT NULL,
    datetime         TIMESTAMPTZ NOT NULL,
    publisher        TEXT NOT NULL,
    protocol         TEXT NOT NULL,
    protocol_version INT NOT NULL,
    content          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_txs (
    tx_hash TEXT PRIMARY KEY REFERENCES chain_txs (hash)
);

CREATE TABLE IF NOT EXISTS pending_messages (
    id            BIGSERIAL PRIMARY KEY,
    item_hash     TEXT NOT NULL,
    item_type     TEXT NOT NULL,
    item_content  TEXT NOT NULL DEFAULT '',
    type          TEXT NOT NULL,
    chain         TEXT NOT NULL,
    sender        TEXT NOT NULL,
    signature     TEXT,
    time          DOUBLE PRECISION NOT NULL,
    channel       TEXT NOT NULL DEFAULT '',
    reception_time TIMESTAMPTZ NOT NULL,
    retries       INT NOT NULL DEFAULT 0,
    next_attempt  TIMESTAMPTZ NOT NULL,
    fetched       BOOLEAN NOT NULL DEFAULT FALSE,
    check_message BOOLEAN NOT NULL DEFAULT TRUE,
    origin        TEXT NOT NULL,
    tx_hash       TEXT NOT NULL DEFAULT '',
    source_chain  TEXT NOT NULL DEFAULT '',
    source_height BIGINT NOT NULL DEFAULT -1
);
CREATE UNIQUE INDEX IF NOT EXISTS pending_messages_logical_key
    ON pending_messages (item_hash, sender, source_chain, source_height);
CREATE INDEX IF NOT EXISTS pending_messages_due
    ON pending_messages (next_attempt, retries, time);
CREATE INDEX IF NOT EXISTS pending_messages_identity
    ON pending_messages (item_hash, sender);

CREATE TABLE IF NOT EXISTS messages (
    item_hash TEXT PRIMARY KEY,
    item_type TEXT NOT NULL,
    type      TEXT NOT NULL,
    chain     TEXT NOT NULL,
    sender    TEXT NOT NULL,
    signature TEXT,
    time      DOUBLE PRECISION NOT NULL,
    channel   TEXT NOT NULL DEFAULT '',
    content   JSONB NOT NULL,
    size      BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS message_status (
    item_hash      TEXT PRIMARY KEY,
    status         TEXT NOT NULL,
    reception_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS message_confirmations (
    item_hash TEXT NOT NULL,
    tx_hash   TEXT NOT NULL REFERENCES chain_txs (hash),
    PRIMARY KEY (item_hash, tx_hash)
);

CREATE TABLE IF NOT EXISTS rejected_messages (
    item_hash  TEXT PRIMARY KEY,
    message    JSONB NOT NULL,
    error_code TEXT NOT NULL,
    details    JSONB,
    traceback  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS forgotten_messages (
    item_hash    TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    chain        TEXT NOT NULL,
    sender       TEXT NOT NULL,
    signature    TEXT,
    item_type    TEXT NOT NULL,
    time         DOUBLE PRECISION NOT NULL,
    channel      TEXT NOT NULL DEFAULT '',
    forgotten_by TEXT[] NOT NULL
);

CREATE TABLE IF NOT EXISTS stored_files (
    hash TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    size BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_pins (
    id        BIGSERIAL PRIMARY KEY,
    file_hash TEXT NOT NULL,
    type      TEXT NOT NULL,
    created   TIMESTAMPTZ NOT NULL,
    tx_hash   TEXT NOT NULL DEFAULT '',
    owner     TEXT NOT NULL DEFAULT '',
    item_hash TEXT NOT NULL DEFAULT '',
    ref       TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS file_pins_tx_identity
    ON file_pins (file_hash, tx_hash) WHERE type = 'tx';
CREATE UNIQUE INDEX IF NOT EXISTS file_pins_item_identity
    ON file_pins (item_hash, type) WHERE type <> 'tx';
CREATE INDEX IF NOT EXISTS file_pins_file_hash ON file_pins (file_hash);

CREATE TABLE IF NOT EXISTS file_tags (
    tag       TEXT PRIMARY KEY,
    owner     TEXT NOT NULL,
    file_hash TEXT NOT NULL,
    updated   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregate_elements (
    item_hash         TEXT PRIMARY KEY,
    key               TEXT NOT NULL,
    owner             TEXT NOT NULL,
    content           JSONB NOT NULL,
    creation_datetime TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS aggregate_elements_key_owner
    ON aggregate_elements (key, owner, creation_datetime);

CREATE TABLE IF NOT EXISTS aggregates (
    key                TEXT NOT NULL,
    owner              TEXT NOT NULL,
    content            JSONB NOT NULL,
    creation_datetime  TIMESTAMPTZ NOT NULL,
    last_revision_hash TEXT NOT NULL,
    dirty              BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (key, owner)
);

CREATE TABLE IF NOT EXISTS posts (
    item_hash         TEXT PRIMARY KEY,
    owner             TEXT NOT NULL,
    post_type         TEXT NOT NULL,
    ref               TEXT,
    amends            TEXT,
    channel           TEXT NOT NULL DEFAULT '',
    content           JSONB NOT NULL,
    creation_datetime TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS vms (
    item_hash       TEXT PRIMARY KEY,
    owner           TEXT NOT NULL,
    type            TEXT NOT NULL,
    allow_amend     BOOLEAN NOT NULL DEFAULT FALSE,
    replaces        TEXT,
    environment     JSONB NOT NULL,
    resources       JSONB NOT NULL,
    variables       JSONB,
    authorized_keys JSONB,
    rootfs          JSONB,
    program         JSONB,
    volumes         JSONB NOT NULL,
    created         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vms_replaces ON vms (replaces) WHERE replaces IS NOT NULL;

CREATE TABLE IF NOT EXISTS vm_versions (
    vm_hash         TEXT PRIMARY KEY,
    owner           TEXT NOT NULL,
    current_version TEXT NOT NULL,
    last_updated    TIMESTAMPTZ NOT NULL
);
`
