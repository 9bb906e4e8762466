package logdb

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
		CREATE TABLE message(
			id INTEGER PRIMARY KEY,
			time INT NOT NULL,
			timestamp INT NOT NULL DEFAULT 0,
			host TEXT NOT NULL,
			facility TEXT,
			severity TEXT,
			message TEXT NOT NULL,
			keywords TEXT
		);
		CREATE INDEX idx_message_time ON message (time DESC, timestamp DESC);
		CREATE INDEX idx_message_host_severity ON message (host, severity);
		CREATE INDEX idx_message_host_facility ON message (host, facility);

		CREATE TABLE alert(
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			enable INT NOT NULL DEFAULT 1,
			filter TEXT
		);
		CREATE UNIQUE INDEX idx_alert_name ON alert (name);
	`))

	return migs
}
