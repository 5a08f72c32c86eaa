package store

import (
	"fmt"

	"fieldsync-agent/internal/config"
)

// Open creates the store selected by cfg.Type.
func Open(cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Type {
	case "memory":
		s = NewMemoryStore()
	case "redis":
		var rs *RedisStore
		rs, err = NewRedisStore(RedisConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		})
		s = rs
	case "mysql":
		var ms *MySQLStore
		ms, err = NewMySQLStore(cfg.MySQLDSN())
		s = ms
	case "postgres", "postgresql":
		var ps *PostgresStore
		ps, err = NewPostgresStore(cfg.PostgresDSN())
		s = ps
	case "mongodb", "mongo":
		var mg *MongoStore
		mg, err = NewMongoStore(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		s = mg
	case "sqlite", "":
		var ls *SQLiteStore
		ls, err = NewSQLiteStore(cfg.Path)
		s = ls
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}

	if err != nil {
		return nil, err
	}
	return s, nil
}
