package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/cuemby/fleetctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCluster  = []byte("cluster")
	bucketNodes    = []byte("nodes")
	bucketInstances = []byte("instances")
	bucketJobs     = []byte("jobs")
	bucketCA       = []byte("ca")
)

// clusterKey is the fixed key under which the singleton Cluster record lives.
var clusterKey = []byte("cluster")

// BoltStore implements Store using BoltDB (bbolt), grounded directly on the
// teacher's pkg/storage.BoltStore: one file per master data directory, one
// bucket per entity kind, JSON-serialized values, ACID transactions with
// fsync on write.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store under dataDir/fleetctl.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetctl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketCluster, bucketNodes, bucketInstances, bucketJobs, bucketCA}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Cluster operations

func (s *BoltStore) SaveCluster(cluster *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCluster)
		data, err := json.Marshal(cluster)
		if err != nil {
			return err
		}
		return b.Put(clusterKey, data)
	})
}

func (s *BoltStore) GetCluster() (*types.Cluster, error) {
	var cluster types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCluster)
		data := b.Get(clusterKey)
		if data == nil {
			return fmt.Errorf("cluster not initialized")
		}
		return json.Unmarshal(data, &cluster)
	})
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node not found: %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // upsert, same as create
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Instance operations

func (s *BoltStore) CreateInstance(inst *types.Instance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data, err := json.Marshal(inst)
		if err != nil {
			return err
		}
		return b.Put([]byte(inst.Name), data)
	})
}

func (s *BoltStore) GetInstance(name string) (*types.Instance, error) {
	var inst types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("instance not found: %s", name)
		}
		return json.Unmarshal(data, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.ForEach(func(k, v []byte) error {
			var inst types.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	return instances, err
}

func (s *BoltStore) UpdateInstance(inst *types.Instance) error {
	return s.CreateInstance(inst)
}

func (s *BoltStore) DeleteInstance(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.Delete([]byte(name))
	})
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put(jobKey(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id int64) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get(jobKey(id))
		if data == nil {
			return fmt.Errorf("job not found: %d", id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job)
}

func jobKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// Certificate Authority operations

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("root"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("root"))
		if v == nil {
			return fmt.Errorf("CA not initialized")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}
