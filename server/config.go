package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/dbh"
)

type Config struct {
	UserDB dbh.DBConfig `json:"userDB"`
	LogDB  dbh.DBConfig `json:"logDB"`
	Audit  *AuditConfig `json:"audit"`
	SMTP   *SMTPConfig  `json:"smtp"`
}

// AuditConfig points at the external audit collector (a syslog datagram listener).
// When absent, audit messages are discarded.
type AuditConfig struct {
	Network string `json:"network"` // eg "udp"
	Address string `json:"address"` // eg "127.0.0.1:514"
	Tag     string `json:"tag"`     // syslog tag, eg "log-o"
}

// SMTPConfig points at the mail relay for welcome/reset mail.
// When absent, no mail is sent.
type SMTPConfig struct {
	Addr string `json:"addr"` // host:port
	From string `json:"from"`
}

// DefaultConfig is what you get when no config file exists: sqlite databases in the
// working directory, no audit collector, no mail relay.
func DefaultConfig() Config {
	return Config{
		UserDB: dbh.MakeSqliteConfig("logo-users.sqlite"),
		LogDB:  dbh.MakeSqliteConfig("logo-messages.sqlite"),
	}
}

func LoadConfig(filename string) (Config, error) {
	raw, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	} else if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("Error parsing config file %v: %w", filename, err)
	}
	return cfg, nil
}
