package fakecredentialrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
)

var _ credentials.Repo = (*FakeCredentialRepo)(nil)

type FakeCredentialRepo struct {
	records map[string]*credentials.Record
	lock    sync.RWMutex

	// FailPut makes Put and Upsert fail for the given external IDs
	FailPut map[string]error
	// FailList, when set, is returned by List
	FailList error
	// Block, when set, stalls writes until it is closed
	Block chan struct{}
	// BeforeWrite, when set, runs at the start of every write with the external ID
	BeforeWrite func(externalID string)
}

func NewFakeCredentialRepo() *FakeCredentialRepo {
	return &FakeCredentialRepo{
		records: make(map[string]*credentials.Record),
		FailPut: make(map[string]error),
	}
}

func (cr *FakeCredentialRepo) Get(_ context.Context, externalID string) (*credentials.Record, error) {
	cr.lock.RLock()
	defer cr.lock.RUnlock()

	rec, ok := cr.records[externalID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (cr *FakeCredentialRepo) Put(_ context.Context, rec *credentials.Record) (bool, error) {
	if err := cr.beforeWrite(rec.ExternalID); err != nil {
		return false, err
	}

	cr.lock.Lock()
	defer cr.lock.Unlock()

	_, exists := cr.records[rec.ExternalID]
	cp := *rec
	cr.records[rec.ExternalID] = &cp
	return !exists, nil
}

// Upsert holds the write lock across the read, the merge and the write.
func (cr *FakeCredentialRepo) Upsert(_ context.Context, rec *credentials.Record, merge credentials.MergeFunc) (bool, error) {
	if err := cr.beforeWrite(rec.ExternalID); err != nil {
		return false, err
	}

	cr.lock.Lock()
	defer cr.lock.Unlock()

	var existing *credentials.Record
	if stored, ok := cr.records[rec.ExternalID]; ok {
		cp := *stored
		existing = &cp
	}
	cp := *merge(existing, rec)
	cr.records[rec.ExternalID] = &cp
	return existing == nil, nil
}

func (cr *FakeCredentialRepo) List(_ context.Context) ([]*credentials.Record, error) {
	cr.lock.RLock()
	defer cr.lock.RUnlock()

	if cr.FailList != nil {
		return nil, cr.FailList
	}
	out := make([]*credentials.Record, 0, len(cr.records))
	for _, rec := range cr.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

func (cr *FakeCredentialRepo) beforeWrite(externalID string) error {
	cr.lock.RLock()
	block := cr.Block
	hook := cr.BeforeWrite
	failErr := cr.FailPut[externalID]
	cr.lock.RUnlock()

	if hook != nil {
		hook(externalID)
	}
	if block != nil {
		<-block
	}
	return failErr
}
