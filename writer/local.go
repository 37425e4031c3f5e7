package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cryptex/logger"
	"cryptex/models"
)

// LocalDumper overwrites <dir>/<SYMBOL>_<TIMEFRAME>.json on every refresh.
type LocalDumper struct {
	dir string
	log *logger.Log
}

func NewLocalDumper(dir string) (*LocalDumper, error) {
	if dir == "" {
		dir = ".data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir %s: %w", dir, err)
	}
	return &LocalDumper{dir: dir, log: logger.GetLogger()}, nil
}

func (d *LocalDumper) Path(symbol, timeframe string) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s_%s.json", symbol, timeframe))
}

func (d *LocalDumper) Dump(ctx context.Context, snapshot models.MarketSnapshot) error {
	path := d.Path(snapshot.Symbol, snapshot.Timeframe)
	data, err := json.MarshalIndent(toRecords(snapshot.Candles), "", "  ")
	if err != nil {
		return fmt.Errorf("encode candles: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	d.log.WithComponent("local_dumper").WithFields(logger.Fields{
		"path":    path,
		"candles": len(snapshot.Candles),
	}).Debug("candles persisted")
	return nil
}
