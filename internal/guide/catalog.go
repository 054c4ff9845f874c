package guide

import (
	"context"
	"fmt"
)

// CatalogReport summarizes a catalog refresh.
type CatalogReport struct {
	Hospitals       int
	DefaultHospital *Hospital
	DefaultProjects int
	Failed          map[int64]error
}

// CatalogRefresher keeps the hospital list and default selections current.
type CatalogRefresher struct {
	api    ContentAPI
	store  Store
	logger Logger
}

func NewCatalogRefresher(api ContentAPI, store Store, logger Logger) *CatalogRefresher {
	return &CatalogRefresher{api: api, store: store, logger: logger}
}

// Refresh replaces the hospital list, the default hospital and each
// hospital's default project. Default lookups that fail are logged and skipped.
func (c *CatalogRefresher) Refresh(ctx context.Context) (*CatalogReport, error) {
	hospitals, err := c.api.ListHospitals(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing hospitals: %w", err)
	}
	if err := c.store.ReplaceHospitals(ctx, hospitals); err != nil {
		return nil, StorageError("storing hospitals", err)
	}

	report := &CatalogReport{Hospitals: len(hospitals), Failed: make(map[int64]error)}

	def, err := c.api.GetDefaultHospital(ctx)
	switch {
	case err != nil:
		c.logger.Warn("default hospital unavailable", "error", err)
	case def != nil:
		if err := c.store.ReplaceDefaultHospital(ctx, *def); err != nil {
			c.logger.Warn("could not store default hospital", "hospital_id", def.ID, "error", err)
		} else {
			report.DefaultHospital = def
		}
	}

	for _, h := range hospitals {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p, err := c.api.GetDefaultProject(ctx, h.ID)
		if err != nil {
			c.logger.Warn("skipping default project", "hospital_id", h.ID, "error", err)
			report.Failed[h.ID] = err
			continue
		}
		if p == nil {
			continue
		}
		p.HospitalID = h.ID
		if err := c.store.ReplaceDefaultProject(ctx, *p); err != nil {
			err = StorageError("storing default project", err)
			c.logger.Warn("skipping default project", "hospital_id", h.ID, "error", err)
			report.Failed[h.ID] = err
			continue
		}
		report.DefaultProjects++
	}

	c.logger.Info("catalog refreshed", "hospitals", report.Hospitals, "default_projects", report.DefaultProjects, "failed", len(report.Failed))
	return report, nil
}

// DefaultSelection returns the hospital to select when the user has not
// chosen one: the stored default, else the first known hospital.
func (c *CatalogRefresher) DefaultSelection(ctx context.Context) (*Hospital, error) {
	def, err := c.store.FindDefaultHospital(ctx)
	if err != nil {
		return nil, StorageError("reading default hospital", err)
	}
	if def != nil {
		return def, nil
	}

	hospitals, err := c.store.ListHospitals(ctx)
	if err != nil {
		return nil, StorageError("listing hospitals", err)
	}
	if len(hospitals) == 0 {
		return nil, nil
	}
	return &hospitals[0], nil
}
