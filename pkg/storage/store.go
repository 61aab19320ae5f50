package storage

import (
	"github.com/voxelforge/fabric/pkg/types"
)

// Store defines the interface for coordinator state persistence.
// The running system rebuilds its stock cache from reality; the store
// exists for job/request durability and sales analytics.
type Store interface {
	// Jobs (active queue)
	SaveJob(job *types.Job) error
	GetJob(id int64) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	DeleteJob(id int64) error

	// Job history (terminal jobs)
	AppendJobHistory(job *types.Job) error
	ListJobHistory() ([]*types.Job, error)

	// Requests
	SaveRequest(req *types.Request) error
	GetRequest(id string) (*types.Request, error)
	ListRequests() ([]*types.Request, error)
	DeleteRequest(id string) error

	// Agents
	SaveAgent(agent *types.Agent) error
	ListAgents() ([]*types.Agent, error)
	DeleteAgent(id string) error

	// Shop catalogue and analytics
	SaveProduct(product *types.Product) error
	GetProduct(name string) (*types.Product, error)
	ListProducts() ([]*types.Product, error)
	DeleteProduct(name string) error
	AppendSale(sale *types.Sale) error
	ListSales() ([]*types.Sale, error)

	// Pending refunds (quarantined transactions)
	EnqueuePendingRefund(tx *types.Transaction) error
	ListPendingRefunds() ([]*types.Transaction, error)
	DeletePendingRefund(id string) error

	// Counters (monotonic IDs, persistent across restart)
	NextID(name string) (int64, error)

	// Stock cache (informational snapshot, rebuilt on scan)
	SaveStockCache(stock map[string]uint) error
	LoadStockCache() (map[string]uint, error)

	// Utility
	Close() error
}
