package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/voxelforge/fabric/pkg/types"
)

var (
	// Bucket names
	bucketJobs           = []byte("jobs")
	bucketJobHistory     = []byte("job_history")
	bucketRequests       = []byte("requests")
	bucketAgents         = []byte("agents")
	bucketProducts       = []byte("products")
	bucketSales          = []byte("sales")
	bucketPendingRefunds = []byte("pending_refunds")
	bucketCounters       = []byte("counters")
	bucketStockCache     = []byte("stock_cache")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fabric.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketJobHistory,
			bucketRequests,
			bucketAgents,
			bucketProducts,
			bucketSales,
			bucketPendingRefunds,
			bucketCounters,
			bucketStockCache,
		}

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

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func i64Key(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// Job operations
func (s *BoltStore) SaveJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put(i64Key(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id int64) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get(i64Key(id))
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

func (s *BoltStore) DeleteJob(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.Delete(i64Key(id))
	})
}

// Job history operations
func (s *BoltStore) AppendJobHistory(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobHistory)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put(i64Key(job.ID), data)
	})
}

func (s *BoltStore) ListJobHistory() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobHistory)
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

// Request operations
func (s *BoltStore) SaveRequest(req *types.Request) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return b.Put([]byte(req.ID), data)
	})
}

func (s *BoltStore) GetRequest(id string) (*types.Request, error) {
	var req types.Request
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("request not found: %s", id)
		}
		return json.Unmarshal(data, &req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *BoltStore) ListRequests() ([]*types.Request, error) {
	var reqs []*types.Request
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		return b.ForEach(func(k, v []byte) error {
			var req types.Request
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			reqs = append(reqs, &req)
			return nil
		})
	})
	return reqs, err
}

func (s *BoltStore) DeleteRequest(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		return b.Delete([]byte(id))
	})
}

// Agent operations
func (s *BoltStore) SaveAgent(agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		return b.Put([]byte(agent.ID), data)
	})
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		return b.ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) DeleteAgent(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		return b.Delete([]byte(id))
	})
}

// Product operations
func (s *BoltStore) SaveProduct(product *types.Product) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProducts)
		data, err := json.Marshal(product)
		if err != nil {
			return err
		}
		return b.Put([]byte(product.Name), data)
	})
}

func (s *BoltStore) GetProduct(name string) (*types.Product, error) {
	var product types.Product
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProducts)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("product not found: %s", name)
		}
		return json.Unmarshal(data, &product)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *BoltStore) ListProducts() ([]*types.Product, error) {
	var products []*types.Product
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProducts)
		return b.ForEach(func(k, v []byte) error {
			var product types.Product
			if err := json.Unmarshal(v, &product); err != nil {
				return err
			}
			products = append(products, &product)
			return nil
		})
	})
	return products, err
}

func (s *BoltStore) DeleteProduct(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProducts)
		return b.Delete([]byte(name))
	})
}

// Sale operations
func (s *BoltStore) AppendSale(sale *types.Sale) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSales)
		data, err := json.Marshal(sale)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(i64Key(int64(seq)), data)
	})
}

func (s *BoltStore) ListSales() ([]*types.Sale, error) {
	var sales []*types.Sale
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSales)
		return b.ForEach(func(k, v []byte) error {
			var sale types.Sale
			if err := json.Unmarshal(v, &sale); err != nil {
				return err
			}
			sales = append(sales, &sale)
			return nil
		})
	})
	return sales, err
}

// Pending refund operations
func (s *BoltStore) EnqueuePendingRefund(txn *types.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingRefunds)
		data, err := json.Marshal(txn)
		if err != nil {
			return err
		}
		return b.Put([]byte(txn.ID), data)
	})
}

func (s *BoltStore) ListPendingRefunds() ([]*types.Transaction, error) {
	var txns []*types.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingRefunds)
		return b.ForEach(func(k, v []byte) error {
			var txn types.Transaction
			if err := json.Unmarshal(v, &txn); err != nil {
				return err
			}
			txns = append(txns, &txn)
			return nil
		})
	})
	return txns, err
}

func (s *BoltStore) DeletePendingRefund(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingRefunds)
		return b.Delete([]byte(id))
	})
}

// NextID returns the next value of a named monotonic counter.
func (s *BoltStore) NextID(name string) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		cur := b.Get([]byte(name))
		if cur != nil {
			id = int64(binary.BigEndian.Uint64(cur))
		}
		id++
		return b.Put([]byte(name), i64Key(id))
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Stock cache operations
func (s *BoltStore) SaveStockCache(stock map[string]uint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStockCache)
		data, err := json.Marshal(stock)
		if err != nil {
			return err
		}
		return b.Put([]byte("stock"), data)
	})
}

func (s *BoltStore) LoadStockCache() (map[string]uint, error) {
	stock := make(map[string]uint)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStockCache)
		data := b.Get([]byte("stock"))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &stock)
	})
	return stock, err
}
