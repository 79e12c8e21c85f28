package graphdb

import (
	"flag"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

var predefinedDB *sqlx.DB

func TestMain(m *testing.M) {
	sqlConnStr := flag.String("sql-conn", "", "Postgres connection string")
	flag.Parse()
	if *sqlConnStr != "" {
		var err error
		predefinedDB, err = sqlx.Open("pgx", *sqlConnStr)
		if err != nil {
			panic(err)
		}
	}
	os.Exit(m.Run())
}
