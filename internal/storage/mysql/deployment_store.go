package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"WalletPlugins/internal/deploy"
	"WalletPlugins/internal/plugin"
)

// DeploymentStore implements deploy.RecordStore.
type DeploymentStore struct {
	db *sql.DB
}

var _ deploy.RecordStore = (*DeploymentStore)(nil)

// NewDeploymentStore wraps an open database.
func NewDeploymentStore(db *sql.DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

const deploymentColumns = `address, name, kind, bytecode_hash, args, tx_hash, chain_id, deployed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (deploy.Record, error) {
	var (
		addr, name, kind, codeHash, txHash, chainID string
		args                                        []byte
		deployedAt                                  int64
	)
	if err := row.Scan(&addr, &name, &kind, &codeHash, &args, &txHash, &chainID, &deployedAt); err != nil {
		return deploy.Record{}, err
	}
	return deploy.Record{
		Name:         name,
		Kind:         plugin.Kind(kind),
		Address:      common.HexToAddress(addr),
		BytecodeHash: common.HexToHash(codeHash),
		Args:         args,
		TxHash:       common.HexToHash(txHash),
		ChainID:      chainID,
		DeployedAt:   time.Unix(deployedAt, 0).UTC(),
	}, nil
}

// GetRecord implements deploy.RecordStore.
func (s *DeploymentStore) GetRecord(ctx context.Context, address common.Address) (deploy.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM plugin_deployments WHERE address = ?`, addressKey(address))
	record, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return deploy.Record{}, false, nil
	}
	if err != nil {
		return deploy.Record{}, false, fmt.Errorf("query deployment %s: %w", address.Hex(), err)
	}
	return record, true, nil
}

// SaveRecord implements deploy.RecordStore. A redeployment at the same
// address refreshes the transaction metadata.
func (s *DeploymentStore) SaveRecord(ctx context.Context, record deploy.Record) error {
	const stmt = `INSERT INTO plugin_deployments (` + deploymentColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE tx_hash = VALUES(tx_hash), chain_id = VALUES(chain_id), deployed_at = VALUES(deployed_at)`
	if _, err := s.db.ExecContext(ctx, stmt,
		addressKey(record.Address),
		record.Name,
		string(record.Kind),
		record.BytecodeHash.Hex(),
		record.Args,
		record.TxHash.Hex(),
		record.ChainID,
		record.DeployedAt.Unix(),
	); err != nil {
		return fmt.Errorf("save deployment %s: %w", record.Address.Hex(), err)
	}
	return nil
}

// ListRecords implements deploy.RecordStore.
func (s *DeploymentStore) ListRecords(ctx context.Context) ([]deploy.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deploymentColumns+` FROM plugin_deployments ORDER BY deployed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var records []deploy.Record
	for rows.Next() {
		record, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return records, nil
}
