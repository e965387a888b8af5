package database

// schema is applied in order at startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		year INT,
		phone TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_role_department ON users (role, department)`,
	`CREATE TABLE IF NOT EXISTS students (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL UNIQUE REFERENCES users(id),
		reg_number TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		department TEXT NOT NULL,
		year INT NOT NULL,
		section TEXT NOT NULL DEFAULT '',
		parent_phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		department TEXT NOT NULL,
		year INT NOT NULL DEFAULT 0,
		section TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		approving_role_id UUID NOT NULL,
		approved_by UUID,
		rejection_reason TEXT,
		created_user_id UUID,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		decided_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_approval_requests_pending_email ON approval_requests (email) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS leave_requests (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		student_id UUID NOT NULL,
		student_snapshot JSONB NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		from_date DATE,
		to_date DATE,
		expected_arrival TIMESTAMPTZ,
		staff_id UUID,
		hod_id UUID,
		recorded_at TIMESTAMPTZ,
		arrival_confirmed_at TIMESTAMPTZ,
		rejection_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leave_requests_student ON leave_requests (student_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS marksheets (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL,
		student_snapshot JSONB NOT NULL,
		exam_name TEXT NOT NULL,
		semester INT NOT NULL,
		subjects JSONB NOT NULL,
		pdf_url TEXT,
		image_url TEXT,
		status TEXT NOT NULL,
		staff_id UUID NOT NULL,
		hod_id UUID,
		hod_response TEXT,
		dispatch_channel TEXT,
		dispatched_at TIMESTAMPTZ,
		send_claim TEXT,
		send_claimed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		recipient_email TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}'::jsonb,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_email, read, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS push_subscriptions (
		endpoint TEXT PRIMARY KEY,
		recipient_email TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_push_subscriptions_recipient ON push_subscriptions (recipient_email) WHERE active`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		user_id UUID,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		resource_id TEXT,
		old_values JSONB,
		new_values JSONB,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
