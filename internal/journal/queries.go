package journal

const (
	createJobHistory = `
		CREATE TABLE IF NOT EXISTS job_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			page_config TEXT,
			qr_data TEXT,
			title TEXT,
			subtitle TEXT,
			quantity INTEGER DEFAULT 1,
			tspl TEXT,
			error_message TEXT,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			finished_at DATETIME,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_job_history_status ON job_history(status);
		CREATE INDEX IF NOT EXISTS idx_job_history_finished_at ON job_history(finished_at);
	`

	insertJobHistory = `
		INSERT INTO job_history (job_id, kind, status, page_config, qr_data, title, subtitle, quantity, tspl, error_message, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	listJobHistory = `
		SELECT id, job_id, kind, status, page_config, qr_data, title, subtitle, quantity, tspl, error_message, created_at, started_at, finished_at, recorded_at
		FROM job_history ORDER BY id DESC LIMIT ?
	`

	pruneJobHistory = `
		DELETE FROM job_history WHERE recorded_at < ?
	`
)
