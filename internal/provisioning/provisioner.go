// Package provisioning defines the port to the tenant-provisioning
// collaborator. Only approval calls it, inside the same unit of work as the
// status flip: no tenant without a matching approved record, and vice versa.
package provisioning

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"schoolreg/internal/application/models"
)

// Result identifies what provisioning created.
type Result struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	AdminAccountID uuid.UUID `json:"admin_account_id"`
}

// Provisioner creates the tenant (school) and its initial admin account.
type Provisioner interface {
	Provision(ctx context.Context, app *models.Application) (*Result, error)
}

// InMemoryProvisioner records provisioned tenants and supports deterministic
// failure injection. Serves tests and development wiring.
type InMemoryProvisioner struct {
	mu      sync.Mutex
	results map[uuid.UUID]Result
	failErr error
}

func NewInMemoryProvisioner() *InMemoryProvisioner {
	return &InMemoryProvisioner{results: make(map[uuid.UUID]Result)}
}

// FailWith makes every subsequent Provision call return err; nil restores
// normal behavior.
func (p *InMemoryProvisioner) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failErr = err
}

func (p *InMemoryProvisioner) Provision(ctx context.Context, app *models.Application) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("provisioning aborted: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return nil, p.failErr
	}
	result := Result{TenantID: uuid.New(), AdminAccountID: uuid.New()}
	p.results[app.ID] = result
	return &result, nil
}

// ResultFor returns the provisioning result recorded for an application.
func (p *InMemoryProvisioner) ResultFor(applicationID uuid.UUID) (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, ok := p.results[applicationID]
	return result, ok
}

// TenantCount reports how many tenants have been provisioned.
func (p *InMemoryProvisioner) TenantCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}
