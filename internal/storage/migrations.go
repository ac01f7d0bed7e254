package storage

// initializeSchema sets up the necessary database tables
func (s *SQLiteStorage) initializeSchema() error {
	// Create encrypted files table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS encrypted_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			algorithm TEXT NOT NULL,
			user_name TEXT NOT NULL,
			iv BLOB NOT NULL,
			password_hash TEXT NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Create audit log table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id INTEGER,
			details TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_files_algorithm ON encrypted_files(algorithm)`,
		`CREATE INDEX IF NOT EXISTS idx_files_user ON encrypted_files(user_name)`,
		`CREATE INDEX IF NOT EXISTS idx_files_public ON encrypted_files(is_public)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
