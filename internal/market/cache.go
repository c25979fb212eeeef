package market

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const datasetVersion = 1

// Dataset is a recorded candle series used to replay backtests on exactly the
// same data.
type Dataset struct {
	Version    int       `msgpack:"version"`
	Pair       string    `msgpack:"pair"`
	Interval   string    `msgpack:"interval"`
	RecordedAt time.Time `msgpack:"recorded_at"`
	Candles    []Candle  `msgpack:"candles"`
}

func SaveDataset(path string, ds Dataset) error {
	if err := Validate(ds.Candles); err != nil {
		return err
	}
	ds.Version = datasetVersion
	if ds.RecordedAt.IsZero() {
		ds.RecordedAt = time.Now().UTC()
	}
	payload, err := msgpack.Marshal(&ds)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadDataset(path string) (Dataset, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, err
	}
	var ds Dataset
	if err := msgpack.Unmarshal(payload, &ds); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if ds.Version != datasetVersion {
		return Dataset{}, fmt.Errorf("dataset %s has version %d, expected %d", path, ds.Version, datasetVersion)
	}
	if len(ds.Candles) == 0 {
		return Dataset{}, errors.New("dataset has no candles")
	}
	if err := Validate(ds.Candles); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}
