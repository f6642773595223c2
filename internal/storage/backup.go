package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// BackupManager takes consistent snapshots of the vault database.
type BackupManager struct {
	db *DB
}

// NewBackupManager creates a new backup manager for an open database.
func NewBackupManager(db *DB) *BackupManager {
	return &BackupManager{db: db}
}

// BackupInfo contains information about a backup file.
type BackupInfo struct {
	Path     string
	Name     string
	Size     int64
	ModTime  time.Time
	Checksum string
}

// DefaultBackupDir returns the "backups" directory next to the database file.
func (bm *BackupManager) DefaultBackupDir() string {
	return filepath.Join(filepath.Dir(bm.db.Path()), "backups")
}

// Backup writes a snapshot of the database into backupDir and returns its path.
// An empty backupDir selects DefaultBackupDir.
//
// VACUUM INTO runs on the live connection, so card data and user data are
// copied from the same read transaction.
func (bm *BackupManager) Backup(backupDir string) (string, error) {
	if bm.db.Path() == ":memory:" {
		return "", fmt.Errorf("cannot back up an in-memory database")
	}
	if backupDir == "" {
		backupDir = bm.DefaultBackupDir()
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("cardvault_%s.db", time.Now().Format("20060102_150405.000"))
	backupPath := filepath.Join(backupDir, name)

	if _, err := bm.db.Conn().Exec("VACUUM INTO ?", backupPath); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}

	if err := VerifyBackup(backupPath); err != nil {
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("backup verification failed: %w", err)
	}

	return backupPath, nil
}

// VerifyBackup checks that a backup file is a readable vault database.
func VerifyBackup(backupPath string) error {
	db, err := sql.Open("sqlite", backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup as database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to check backup integrity: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup integrity check failed: %s", result)
	}

	var tables int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('cards', 'library')`).Scan(&tables)
	if err != nil {
		return fmt.Errorf("failed to query backup schema: %w", err)
	}
	if tables != 2 {
		return fmt.Errorf("backup is missing vault tables")
	}

	return nil
}

// ListBackups returns the backups in backupDir, newest first.
func (bm *BackupManager) ListBackups(backupDir string) ([]BackupInfo, error) {
	if backupDir == "" {
		backupDir = bm.DefaultBackupDir()
	}

	entries, err := os.ReadDir(backupDir)
	if os.IsNotExist(err) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []BackupInfo{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		backupPath := filepath.Join(backupDir, entry.Name())
		checksum, err := calculateChecksum(backupPath)
		if err != nil {
			checksum = "unknown"
		}

		backups = append(backups, BackupInfo{
			Path:     backupPath,
			Name:     entry.Name(),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Checksum: checksum,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime.After(backups[j].ModTime)
	})

	return backups, nil
}

// calculateChecksum calculates the SHA-256 checksum of a file.
func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
