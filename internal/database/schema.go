package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied statement by statement on startup. Every statement is
// idempotent. MySQL has no partial unique indexes, so "one PENDING transfer
// per ticket" and "one open upgrade per ticket" are stored generated
// columns that are NULL outside the guarded state; NULLs never collide.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ticket_types (
		id             CHAR(36)     NOT NULL PRIMARY KEY,
		slug           VARCHAR(128) NOT NULL,
		name           VARCHAR(255) NOT NULL,
		kind           VARCHAR(32)  NOT NULL,
		price_cents    BIGINT       NOT NULL,
		capacity       INT          NULL,
		sold_count     INT          NOT NULL DEFAULT 0,
		valid_days     JSON         NOT NULL,
		is_active      TINYINT(1)   NOT NULL DEFAULT 1,
		sale_starts_at DATETIME     NULL,
		sale_ends_at   DATETIME     NULL,
		created_at     DATETIME     NOT NULL,
		UNIQUE KEY uq_ticket_types_slug (slug),
		CONSTRAINT chk_ticket_types_sold CHECK (capacity IS NULL OR sold_count <= capacity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS seat_blocks (
		id              CHAR(36)     NOT NULL PRIMARY KEY,
		section_id      VARCHAR(64)  NOT NULL,
		section_name    VARCHAR(255) NOT NULL,
		event_date      DATE         NOT NULL,
		row_start       VARCHAR(8)   NOT NULL,
		row_end         VARCHAR(8)   NOT NULL,
		seat_start      INT          NOT NULL,
		seat_end        INT          NOT NULL,
		total_seats     INT          NOT NULL,
		available_seats INT          NOT NULL,
		held_seats      INT          NOT NULL DEFAULT 0,
		sold_seats      INT          NOT NULL DEFAULT 0,
		price_cents     BIGINT       NOT NULL,
		is_active       TINYINT(1)   NOT NULL DEFAULT 1,
		updated_at      DATETIME     NOT NULL,
		KEY idx_seat_blocks_lookup (section_id, event_date, row_start, seat_start),
		CONSTRAINT chk_seat_blocks_balance
			CHECK (available_seats >= 0 AND held_seats >= 0 AND sold_seats >= 0
			       AND available_seats + held_seats + sold_seats = total_seats)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS seat_holds (
		id              CHAR(36)     NOT NULL PRIMARY KEY,
		block_id        CHAR(36)     NOT NULL,
		section_id      VARCHAR(64)  NOT NULL,
		event_date      DATE         NOT NULL,
		user_id         VARCHAR(64)  NOT NULL DEFAULT '',
		session_key     VARCHAR(128) NOT NULL DEFAULT '',
		quantity        INT          NOT NULL,
		allocated_seats JSON         NOT NULL,
		price_cents     BIGINT       NOT NULL,
		expires_at      DATETIME(6)  NOT NULL,
		is_active       TINYINT(1)   NOT NULL DEFAULT 1,
		close_reason    VARCHAR(16)  NOT NULL DEFAULT '',
		order_id        CHAR(36)     NULL,
		created_at      DATETIME(6)  NOT NULL,
		closed_at       DATETIME(6)  NULL,
		KEY idx_seat_holds_block (block_id, is_active, expires_at),
		KEY idx_seat_holds_expiry (is_active, expires_at),
		CONSTRAINT fk_seat_holds_block FOREIGN KEY (block_id) REFERENCES seat_blocks (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS orders (
		id                   CHAR(36)     NOT NULL PRIMARY KEY,
		order_number         VARCHAR(32)  NOT NULL,
		buyer_id             VARCHAR(64)  NOT NULL,
		status               VARCHAR(32)  NOT NULL,
		payment_method       VARCHAR(16)  NOT NULL,
		idempotency_key      VARCHAR(128) NOT NULL,
		payment_reference    VARCHAR(255) NULL,
		subtotal_cents       BIGINT       NOT NULL,
		fee_cents            BIGINT       NOT NULL,
		total_cents          BIGINT       NOT NULL,
		refunded_cents       BIGINT       NOT NULL DEFAULT 0,
		paid_at              DATETIME(6)  NULL,
		finalized_at         DATETIME(6)  NULL,
		needs_reconciliation TINYINT(1)   NOT NULL DEFAULT 0,
		reconciliation_note  TEXT         NOT NULL,
		created_at           DATETIME(6)  NOT NULL,
		updated_at           DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_orders_idempotency_key (idempotency_key),
		UNIQUE KEY uq_orders_payment_reference (payment_reference),
		UNIQUE KEY uq_orders_number (order_number)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id               CHAR(36) NOT NULL PRIMARY KEY,
		order_id         CHAR(36) NOT NULL,
		ticket_type_id   CHAR(36) NOT NULL,
		hold_id          CHAR(36) NULL,
		quantity         INT      NOT NULL,
		unit_price_cents BIGINT   NOT NULL,
		KEY idx_order_items_order (order_id),
		UNIQUE KEY uq_order_items_hold (hold_id),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders (id),
		CONSTRAINT fk_order_items_type FOREIGN KEY (ticket_type_id) REFERENCES ticket_types (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS tickets (
		id             CHAR(36)    NOT NULL PRIMARY KEY,
		ticket_code    VARCHAR(32) NOT NULL,
		ticket_type_id CHAR(36)    NOT NULL,
		owner_id       VARCHAR(64) NOT NULL,
		order_id       CHAR(36)    NULL,
		status         VARCHAR(32) NOT NULL,
		qr_version     INT         NOT NULL DEFAULT 1,
		is_comp        TINYINT(1)  NOT NULL DEFAULT 0,
		seat_block_id  CHAR(36)    NULL,
		seat_row       VARCHAR(8)  NULL,
		seat_number    INT         NULL,
		event_date     DATE        NULL,
		companion_of   CHAR(36)    NULL,
		used_at        DATETIME(6) NULL,
		issued_at      DATETIME(6) NOT NULL,
		updated_at     DATETIME(6) NOT NULL,
		UNIQUE KEY uq_tickets_code (ticket_code),
		KEY idx_tickets_order (order_id),
		KEY idx_tickets_seat (seat_block_id, status),
		CONSTRAINT chk_tickets_used CHECK ((status = 'USED') = (used_at IS NOT NULL)),
		CONSTRAINT fk_tickets_type FOREIGN KEY (ticket_type_id) REFERENCES ticket_types (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ticket_transfers (
		id                CHAR(36)     NOT NULL PRIMARY KEY,
		ticket_id         CHAR(36)     NOT NULL,
		from_user_id      VARCHAR(64)  NOT NULL,
		to_email          VARCHAR(255) NOT NULL,
		to_user_id        VARCHAR(64)  NULL,
		token_hash        CHAR(64)     NOT NULL,
		status            VARCHAR(16)  NOT NULL,
		expires_at        DATETIME(6)  NOT NULL,
		created_at        DATETIME(6)  NOT NULL,
		resolved_at       DATETIME(6)  NULL,
		pending_ticket_id CHAR(36) AS (CASE WHEN status = 'PENDING' THEN ticket_id END) STORED,
		UNIQUE KEY uq_transfers_token (token_hash),
		UNIQUE KEY uq_transfers_one_pending (pending_ticket_id),
		KEY idx_transfers_expiry (status, expires_at),
		CONSTRAINT fk_transfers_ticket FOREIGN KEY (ticket_id) REFERENCES tickets (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ticket_upgrades (
		id                CHAR(36)     NOT NULL PRIMARY KEY,
		ticket_id         CHAR(36)     NOT NULL,
		from_type_id      CHAR(36)     NOT NULL,
		to_type_id        CHAR(36)     NOT NULL,
		price_diff_cents  BIGINT       NOT NULL,
		status            VARCHAR(16)  NOT NULL,
		payment_reference VARCHAR(255) NULL,
		created_at        DATETIME(6)  NOT NULL,
		completed_at      DATETIME(6)  NULL,
		open_ticket_id    CHAR(36) AS (CASE WHEN status IN ('CREATED', 'PAYMENT_PENDING') THEN ticket_id END) STORED,
		UNIQUE KEY uq_upgrades_one_open (open_ticket_id),
		CONSTRAINT fk_upgrades_ticket FOREIGN KEY (ticket_id) REFERENCES tickets (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS scan_logs (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		ticket_id  CHAR(36)     NULL,
		code       VARCHAR(512) NOT NULL,
		result     VARCHAR(32)  NOT NULL,
		message    VARCHAR(255) NOT NULL,
		scanner_id VARCHAR(64)  NOT NULL,
		gate       VARCHAR(64)  NOT NULL,
		device_id  VARCHAR(64)  NOT NULL,
		scanned_at DATETIME(6)  NOT NULL,
		KEY idx_scan_logs_ticket (ticket_id, scanned_at),
		KEY idx_scan_logs_gate (gate, scanned_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS payment_events (
		provider_event_id VARCHAR(255) NOT NULL PRIMARY KEY,
		type              VARCHAR(64)  NOT NULL,
		order_id          VARCHAR(64)  NOT NULL,
		processed         TINYINT(1)   NOT NULL DEFAULT 0,
		processing_error  TEXT         NOT NULL,
		received_at       DATETIME(6)  NOT NULL,
		attempted_at      DATETIME(6)  NOT NULL,
		processed_at      DATETIME(6)  NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refunds (
		id                 CHAR(36)     NOT NULL PRIMARY KEY,
		order_id           CHAR(36)     NOT NULL,
		provider_refund_id VARCHAR(255) NOT NULL,
		amount_cents       BIGINT       NOT NULL,
		reason             VARCHAR(255) NOT NULL,
		created_at         DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_refunds_provider (provider_refund_id),
		CONSTRAINT fk_refunds_order FOREIGN KEY (order_id) REFERENCES orders (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS event_config (
		id                   TINYINT    NOT NULL PRIMARY KEY,
		ticket_sales_enabled TINYINT(1) NOT NULL DEFAULT 1,
		transfer_enabled     TINYINT(1) NOT NULL DEFAULT 1,
		upgrade_enabled      TINYINT(1) NOT NULL DEFAULT 1,
		refunds_enabled      TINYINT(1) NOT NULL DEFAULT 1,
		scanning_enabled     TINYINT(1) NOT NULL DEFAULT 1
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`INSERT IGNORE INTO event_config (id) VALUES (1)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
