package container

import (
	"database/sql"

	"github.com/nkashyap/hireflow/config"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/persistence/inmem"
	rd "github.com/nkashyap/hireflow/persistence/redis"
	sq "github.com/nkashyap/hireflow/persistence/sqlite"

	_ "modernc.org/sqlite"
)

// DIContainer selects and holds the storage implementation for the configured
// backend.
type DIContainer struct {
	initialized bool
	storage     persistence.ExecutionStorage
	db          *sql.DB
}

func NewDiContainer() *DIContainer {
	return &DIContainer{}
}

func (d *DIContainer) Init(conf config.Config) error {
	defer d.setInitialized()

	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		d.storage = rd.NewRedisStorage(rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
		})
	case config.STORAGE_TYPE_SQLITE:
		db, err := sql.Open("sqlite", conf.SqliteConfig.Path)
		if err != nil {
			return err
		}
		storage, err := sq.NewSqliteStorage(db)
		if err != nil {
			return err
		}
		d.db = db
		d.storage = storage
	default:
		d.storage = inmem.NewInMemStorage()
	}
	return nil
}

func (d *DIContainer) setInitialized() {
	d.initialized = true
}

func (d *DIContainer) GetExecutionStorage() persistence.ExecutionStorage {
	if !d.initialized {
		panic("persistence not initialized")
	}
	return d.storage
}

func (d *DIContainer) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
