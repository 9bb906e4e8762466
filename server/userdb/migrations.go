package userdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE user(
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL,
			password BLOB,
			token BLOB,
			active INT NOT NULL DEFAULT 1,
			force_password_change INT NOT NULL DEFAULT 0,
			permissions BLOB,
			created_at INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_user_email ON user (email);
		CREATE INDEX idx_user_token ON user (token);

		CREATE TABLE prior_password(
			id INTEGER PRIMARY KEY,
			user_id INT NOT NULL,
			password BLOB NOT NULL,
			created_at INT NOT NULL
		);
		CREATE INDEX idx_prior_password_user_id ON prior_password (user_id);
	`))

	return migs
}
