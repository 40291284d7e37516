package syncer

import "github.com/shelfsync/shelfsync/internal/models"

// Store is the local durable replica. *state.State satisfies it.
type Store interface {
	ReadCollection(d models.Domain) ([]models.Item, error)
	WriteCollection(d models.Domain, items []models.Item, timestamp string) error
	CommitSync(d models.Domain, items []models.Item, editTS, syncTS string) error
	ReadFlag(d models.Domain, key string) (bool, error)
	WriteFlag(d models.Domain, key string, on bool) error
	ReadTimestamp(d models.Domain, key string) (string, error)
	AddBackup(d models.Domain, backup models.Backup, limit int) error
	Backups(d models.Domain) ([]models.Backup, error)
	Backup(d models.Domain, id string) (*models.Backup, error)
}

// ShareStore persists the set of tracked shares.
type ShareStore interface {
	SaveShare(sh models.Share) error
	DeleteShare(id string) error
	AllShares() ([]models.Share, error)
}
