// Package store persists the IPC Manager's DIF templates and IPCP
// inventory in an embedded bolt database, so a restarted manager can
// rebuild its layout.
package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/rerr"
)

var (
	bucketDIFTemplates = []byte("dif_templates")
	bucketIPCPs        = []byte("ipcps")
)

// IPCPLayout is the persisted description of one desired IPCP.
type IPCPLayout struct {
	ProcessName     string `json:"processName"`
	ProcessInstance string `json:"processInstance"`
	Type            string `json:"type"`
	DIFTemplate     string `json:"difTemplate,omitempty"`
}

// Store is the persistent registry.
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, rerr.Wrap(rerr.KindReadFailed, err, "open store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDIFTemplates, bucketIPCPs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, rerr.Wrap(rerr.KindWriteFailed, err, "initialize store")
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// PutDIFTemplate stores a DIF template under a name.
func (s *Store) PutDIFTemplate(name string, info dif.Information) error {
	b, err := json.Marshal(info)
	if err != nil {
		return rerr.Wrap(rerr.KindInvalidField, err, "encode template %s", name)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDIFTemplates).Put([]byte(name), b)
	})
}

// GetDIFTemplate loads a DIF template by name.
func (s *Store) GetDIFTemplate(name string) (dif.Information, error) {
	var info dif.Information
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDIFTemplates).Get([]byte(name))
		if v == nil {
			return rerr.New(rerr.KindUnknownObjectName, "no DIF template %q", name)
		}
		return json.Unmarshal(v, &info)
	})
	return info, err
}

// ListDIFTemplates lists the stored template names.
func (s *Store) ListDIFTemplates() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDIFTemplates).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// DeleteDIFTemplate removes a template.
func (s *Store) DeleteDIFTemplate(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDIFTemplates).Delete([]byte(name))
	})
}

// PutIPCPLayout records a desired IPCP under its name key.
func (s *Store) PutIPCPLayout(key string, layout IPCPLayout) error {
	b, err := json.Marshal(layout)
	if err != nil {
		return rerr.Wrap(rerr.KindInvalidField, err, "encode layout %s", key)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIPCPs).Put([]byte(key), b)
	})
}

// DeleteIPCPLayout removes a desired IPCP.
func (s *Store) DeleteIPCPLayout(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIPCPs).Delete([]byte(key))
	})
}

// ListIPCPLayouts returns every desired IPCP.
func (s *Store) ListIPCPLayouts() (map[string]IPCPLayout, error) {
	out := make(map[string]IPCPLayout)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIPCPs).ForEach(func(k, v []byte) error {
			var layout IPCPLayout
			if err := json.Unmarshal(v, &layout); err != nil {
				s.logger.Warn("Skipping corrupt layout record", zap.String("key", string(k)))
				return nil
			}
			out[string(k)] = layout
			return nil
		})
	})
	return out, err
}
