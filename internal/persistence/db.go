// Package persistence stores city snapshots in SQLite and in compressed
// snapshot files.
package persistence

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tilecity/internal/city"
	"github.com/talgya/tilecity/internal/grid"
)

// ErrNoState is returned by LoadCity when nothing has been saved yet.
var ErrNoState = errors.New("no saved city state")

// Keys in city_meta.
const (
	metaVersion        = "snapshot_version"
	metaCityID         = "city_id"
	metaConfig         = "config_json"
	metaStats          = "stats_json"
	metaRNG            = "rng"
	metaNextContractID = "next_contract_id"
	metaLastTick       = "last_tick"
)

// DB wraps a SQLite connection for city state.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cells (
		i INTEGER NOT NULL,
		j INTEGER NOT NULL,
		type INTEGER NOT NULL,
		stage INTEGER NOT NULL,
		population INTEGER NOT NULL,
		employers INTEGER NOT NULL,
		employees INTEGER NOT NULL,
		traffic_samples REAL NOT NULL,
		traffic REAL NOT NULL,
		pollution REAL NOT NULL,
		houseness REAL NOT NULL,
		officeness REAL NOT NULL,
		house_desirability REAL NOT NULL,
		office_desirability REAL NOT NULL,
		commute_time REAL NOT NULL,
		cars INTEGER NOT NULL,
		PRIMARY KEY (i, j)
	);

	CREATE TABLE IF NOT EXISTS contracts (
		seq INTEGER PRIMARY KEY,
		id INTEGER NOT NULL UNIQUE,
		employee TEXT NOT NULL,
		employer TEXT NOT NULL,
		commute_time REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS city_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_employer ON contracts(employer);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// cellRow mirrors the cells table.
type cellRow struct {
	I                  int           `db:"i"`
	J                  int           `db:"j"`
	Type               grid.CellType `db:"type"`
	Stage              int           `db:"stage"`
	Population         int           `db:"population"`
	Employers          int           `db:"employers"`
	Employees          int           `db:"employees"`
	TrafficSamples     float64       `db:"traffic_samples"`
	Traffic            float64       `db:"traffic"`
	Pollution          float64       `db:"pollution"`
	Houseness          float64       `db:"houseness"`
	Officeness         float64       `db:"officeness"`
	HouseDesirability  float64       `db:"house_desirability"`
	OfficeDesirability float64       `db:"office_desirability"`
	CommuteTime        float64       `db:"commute_time"`
	Cars               uint8         `db:"cars"`
}

type contractRow struct {
	ID          uint64  `db:"id"`
	Employee    string  `db:"employee"`
	Employer    string  `db:"employer"`
	CommuteTime float64 `db:"commute_time"`
}

func toRow(cs city.CellState) cellRow {
	c := cs.Cell
	return cellRow{
		I: cs.I, J: cs.J,
		Type: c.Type, Stage: c.Stage,
		Population: c.Population, Employers: c.Employers, Employees: c.Employees,
		TrafficSamples: c.TrafficSamples, Traffic: c.Traffic,
		Pollution: c.Pollution, Houseness: c.Houseness, Officeness: c.Officeness,
		HouseDesirability: c.HouseDesirability, OfficeDesirability: c.OfficeDesirability,
		CommuteTime: c.CommuteTime, Cars: c.Cars,
	}
}

func (r cellRow) state() city.CellState {
	return city.CellState{I: r.I, J: r.J, Cell: grid.Cell{
		Type: r.Type, Stage: r.Stage,
		Population: r.Population, Employers: r.Employers, Employees: r.Employees,
		TrafficSamples: r.TrafficSamples, Traffic: r.Traffic,
		Pollution: r.Pollution, Houseness: r.Houseness, Officeness: r.Officeness,
		HouseDesirability: r.HouseDesirability, OfficeDesirability: r.OfficeDesirability,
		CommuteTime: r.CommuteTime, Cars: r.Cars,
	}}
}

// SaveCity writes a snapshot to the database, replacing whatever was there,
// in a single transaction.
func (db *DB) SaveCity(snap *city.Snapshot) error {
	slog.Info("saving city state", "tick", snap.Stats.Tick, "cells", len(snap.Cells), "contracts", len(snap.Contracts))

	meta, err := snapshotMeta(snap)
	if err != nil {
		return err
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cells"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM contracts"); err != nil {
		return err
	}

	cellStmt, err := tx.PrepareNamed(`INSERT INTO cells
		(i, j, type, stage, population, employers, employees, traffic_samples, traffic,
		 pollution, houseness, officeness, house_desirability, office_desirability,
		 commute_time, cars)
		VALUES (:i, :j, :type, :stage, :population, :employers, :employees, :traffic_samples, :traffic,
		 :pollution, :houseness, :officeness, :house_desirability, :office_desirability,
		 :commute_time, :cars)`)
	if err != nil {
		return err
	}
	defer cellStmt.Close()

	for _, cs := range snap.Cells {
		if _, err := cellStmt.Exec(toRow(cs)); err != nil {
			return fmt.Errorf("insert cell %d,%d: %w", cs.I, cs.J, err)
		}
	}

	contractStmt, err := tx.Preparex(`INSERT INTO contracts
		(seq, id, employee, employer, commute_time) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer contractStmt.Close()

	for seq, k := range snap.Contracts {
		if _, err := contractStmt.Exec(seq, k.ID, k.Employee, k.Employer, k.CommuteTime); err != nil {
			return fmt.Errorf("insert contract %d: %w", k.ID, err)
		}
	}

	for key, value := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO city_meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("save meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("city state saved", "tick", snap.Stats.Tick)
	return nil
}

func snapshotMeta(snap *city.Snapshot) (map[string]string, error) {
	cfgJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	statsJSON, err := json.Marshal(snap.Stats)
	if err != nil {
		return nil, fmt.Errorf("marshal stats: %w", err)
	}
	return map[string]string{
		metaVersion:        strconv.Itoa(snap.Version),
		metaCityID:         snap.CityID,
		metaConfig:         string(cfgJSON),
		metaStats:          string(statsJSON),
		metaRNG:            base64.StdEncoding.EncodeToString(snap.RNG),
		metaNextContractID: strconv.FormatUint(snap.NextContractID, 10),
		metaLastTick:       strconv.FormatUint(snap.Stats.Tick, 10),
	}, nil
}

// HasCityState reports whether a city has been saved.
func (db *DB) HasCityState() bool {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM city_meta WHERE key = ?", metaCityID); err != nil {
		return false
	}
	return n > 0
}

// LoadCity reads the saved snapshot. The result still has to go through
// city.Restore to be checked.
func (db *DB) LoadCity() (*city.Snapshot, error) {
	if !db.HasCityState() {
		return nil, ErrNoState
	}

	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := db.conn.Select(&rows, "SELECT key, value FROM city_meta"); err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	meta := make(map[string]string, len(rows))
	for _, r := range rows {
		meta[r.Key] = r.Value
	}

	snap := &city.Snapshot{CityID: meta[metaCityID]}
	var err error
	if snap.Version, err = strconv.Atoi(meta[metaVersion]); err != nil {
		return nil, fmt.Errorf("meta %s: %w", metaVersion, err)
	}
	if snap.NextContractID, err = strconv.ParseUint(meta[metaNextContractID], 10, 64); err != nil {
		return nil, fmt.Errorf("meta %s: %w", metaNextContractID, err)
	}
	if snap.RNG, err = base64.StdEncoding.DecodeString(meta[metaRNG]); err != nil {
		return nil, fmt.Errorf("meta %s: %w", metaRNG, err)
	}
	if err := json.Unmarshal([]byte(meta[metaConfig]), &snap.Config); err != nil {
		return nil, fmt.Errorf("meta %s: %w", metaConfig, err)
	}
	if err := json.Unmarshal([]byte(meta[metaStats]), &snap.Stats); err != nil {
		return nil, fmt.Errorf("meta %s: %w", metaStats, err)
	}

	var cells []cellRow
	if err := db.conn.Select(&cells, "SELECT * FROM cells ORDER BY i, j"); err != nil {
		return nil, fmt.Errorf("load cells: %w", err)
	}
	snap.Cells = make([]city.CellState, len(cells))
	for n, r := range cells {
		snap.Cells[n] = r.state()
	}

	var contracts []contractRow
	if err := db.conn.Select(&contracts,
		"SELECT id, employee, employer, commute_time FROM contracts ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("load contracts: %w", err)
	}
	snap.Contracts = make([]city.ContractState, len(contracts))
	for n, r := range contracts {
		snap.Contracts[n] = city.ContractState(r)
	}

	slog.Info("city state loaded", "tick", snap.Stats.Tick, "contracts", len(snap.Contracts))
	return snap, nil
}

// SaveMeta stores a key-value pair in city metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO city_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. Missing keys return ("", nil).
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM city_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
