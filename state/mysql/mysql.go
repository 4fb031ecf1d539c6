package mysql

import (
	"database/sql"
	"fmt"

	"github.com/root-talis/ikou/state"
)

// StoreConfig names the database and table holding the marker rows. Intended
// for fleets whose hosts report applied-state to a central database instead
// of local marker files.
type StoreConfig struct {
	DatabaseName     string
	MarkersTableName string
}

type mysqlStore struct {
	conn   *sql.DB
	config StoreConfig
}

func New(conn *sql.DB, config StoreConfig) state.Store {
	return &mysqlStore{
		conn:   conn,
		config: config,
	}
}

// ---

func (s *mysqlStore) IsApplied(unitID string) (bool, error) {
	tableName := s.makeEscapedMarkersTableName()

	if err := s.ensureMarkersTableExists(&tableName); err != nil {
		return false, fmt.Errorf("failed to read marker for unit %s: %w", unitID, err)
	}

	var one int
	err := s.conn.QueryRow(
		fmt.Sprintf("SELECT 1 FROM %s WHERE marker_key = ?", tableName),
		state.Key(unitID),
	).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read marker for unit %s: %w", unitID, err)
	}

	return true, nil
}

func (s *mysqlStore) MarkApplied(unitID string) error {
	tableName := s.makeEscapedMarkersTableName()

	if err := s.ensureMarkersTableExists(&tableName); err != nil {
		return fmt.Errorf("failed to write marker for unit %s: %w", unitID, err)
	}

	// One row per marker key; re-marking an applied unit keeps the original
	// applied_at.
	_, err := s.conn.Exec(
		fmt.Sprintf(
			"INSERT INTO %s (marker_key) VALUES (?) "+
				"ON DUPLICATE KEY UPDATE marker_key = marker_key",
			tableName,
		),
		state.Key(unitID),
	)
	if err != nil {
		return fmt.Errorf("failed to write marker for unit %s: %w", unitID, err)
	}

	return nil
}

func (s *mysqlStore) Clear(unitID string) error {
	tableName := s.makeEscapedMarkersTableName()

	if err := s.ensureMarkersTableExists(&tableName); err != nil {
		return fmt.Errorf("failed to clear marker for unit %s: %w", unitID, err)
	}

	_, err := s.conn.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE marker_key = ?", tableName),
		state.Key(unitID),
	)
	if err != nil {
		return fmt.Errorf("failed to clear marker for unit %s: %w", unitID, err)
	}

	return nil
}

func (s *mysqlStore) Reset() error {
	tableName := s.makeEscapedMarkersTableName()

	if err := s.ensureMarkersTableExists(&tableName); err != nil {
		return fmt.Errorf("failed to reset migration state: %w", err)
	}

	_, err := s.conn.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE marker_key LIKE ?", tableName),
		state.Namespace+"%",
	)
	if err != nil {
		return fmt.Errorf("failed to reset migration state: %w", err)
	}

	return nil
}

// ---

func (s *mysqlStore) makeEscapedMarkersTableName() string {
	return fmt.Sprintf(
		"`%s`.`%s`",
		escapeMysqlString(s.config.DatabaseName),
		escapeMysqlString(s.config.MarkersTableName),
	)
}

func (s *mysqlStore) ensureMarkersTableExists(escapedTableName *string) error {
	_, err := s.conn.Exec(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"marker_key varchar(191) not null, "+
			"applied_at datetime default CURRENT_TIMESTAMP not null, "+
			"primary key (marker_key)"+
			") default charset utf8",
		*escapedTableName,
	))

	if err != nil {
		return fmt.Errorf("failed to create markers table %s: %w", *escapedTableName, err)
	}

	return nil
}

// originally from https://gist.github.com/siddontang/8875771
func escapeMysqlString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '`':
			escape = '`'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}
