// Package dump writes an extracted dataset to one JSON file per collection
// and reads it back for a later load.
package dump

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-migrate/internal/model"
)

// ManifestFile describes the collections in a dump directory.
const ManifestFile = "manifest.yaml"

// Collections lists the dump files in write order.
var Collections = []string{
	model.CollectionContacts,
	model.CollectionDonations,
	model.CollectionRecurringDonations,
	model.CollectionReportedIncome,
	model.CollectionCharities,
	model.CollectionCurrencyCodes,
}

// Manifest records which run produced a dump.
type Manifest struct {
	RunID     string         `yaml:"run_id"`
	CreatedAt time.Time      `yaml:"created_at"`
	Source    string         `yaml:"source,omitempty"`
	Limit     int            `yaml:"limit,omitempty"`
	Counts    map[string]int `yaml:"counts"`
}

// NewManifest returns a manifest for ds with a fresh run id.
func NewManifest(ds *model.Dataset, source string, limit int) Manifest {
	return Manifest{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Limit:     limit,
		Counts:    ds.Counts(),
	}
}

// Write replaces the collection files in dir with ds. Other files in dir are
// left alone.
func Write(dir string, ds *model.Dataset, m Manifest) error {
	log := zap.L().With(zap.String("component", "dump.write"), zap.String("dir", dir))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "dump: create %s", dir)
	}
	stale := []string{ManifestFile}
	stale = append(stale, Collections...)
	for _, name := range stale {
		path := fileFor(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return eris.Wrapf(err, "dump: remove %s", path)
		}
	}

	values := map[string]any{
		model.CollectionContacts:           nonNil(ds.Contacts),
		model.CollectionDonations:          nonNil(ds.Donations),
		model.CollectionRecurringDonations: nonNil(ds.RecurringDonations),
		model.CollectionReportedIncome:     nonNil(ds.ReportedIncome),
		model.CollectionCharities:          nonNil(ds.Charities),
		model.CollectionCurrencyCodes:      nonNil(ds.CurrencyCodes),
	}
	for _, name := range Collections {
		data, err := json.MarshalIndent(values[name], "", "\t")
		if err != nil {
			return eris.Wrapf(err, "dump: encode %s", name)
		}
		path := fileFor(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrapf(err, "dump: write %s", path)
		}
		log.Debug("dump: wrote collection", zap.String("collection", name))
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "dump: encode manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return eris.Wrap(err, "dump: write manifest")
	}

	log.Info("dump: dataset written", zap.String("run_id", m.RunID), zap.Int("contacts", len(ds.Contacts)))
	return nil
}

// Read loads a dump directory. Numbers in contacts stay json.Number so ids
// and amounts keep their exact text.
func Read(dir string) (*model.Dataset, *Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "dump: read manifest in %s", dir)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, nil, eris.Wrap(err, "dump: decode manifest")
	}

	ds := &model.Dataset{}
	targets := map[string]any{
		model.CollectionContacts:           &ds.Contacts,
		model.CollectionDonations:          &ds.Donations,
		model.CollectionRecurringDonations: &ds.RecurringDonations,
		model.CollectionReportedIncome:     &ds.ReportedIncome,
		model.CollectionCharities:          &ds.Charities,
		model.CollectionCurrencyCodes:      &ds.CurrencyCodes,
	}
	for _, name := range Collections {
		path := fileFor(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "dump: read %s", path)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(targets[name]); err != nil {
			return nil, nil, eris.Wrapf(err, "dump: decode %s", path)
		}
	}
	return ds, &m, nil
}

func fileFor(dir, name string) string {
	if name == ManifestFile {
		return filepath.Join(dir, name)
	}
	return filepath.Join(dir, name+".json")
}

// nonNil encodes empty collections as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
