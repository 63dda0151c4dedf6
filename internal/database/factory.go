package database

import (
	"fmt"

	"github.com/ilri/odktools-sub000/internal/database/mysql"
	"github.com/ilri/odktools-sub000/internal/database/postgres"
	"github.com/ilri/odktools-sub000/internal/database/sqlite"
)

func NewAdapter(provider string) (Adapter, error) {
	switch provider {
	case "postgresql", "postgres":
		return postgres.New(), nil
	case "mysql":
		return mysql.New(), nil
	case "sqlite", "sqlite3":
		return sqlite.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database provider: %s", provider)
	}
}
