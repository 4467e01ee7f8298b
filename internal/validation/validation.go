// Package validation runs the ordered integrity and diagnostic checks
// over a store described in spec.md §4.8: store integrity, schema
// version, foreign-key violations, orphaned dependencies, invalid
// status values, and missing parent references.
package validation

import (
	"context"
	"fmt"

	"github.com/jamesaphoenix/tx/internal/storage"
)

// Severity classifies how serious a Result is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Result is one check's outcome.
type Result struct {
	Check    string
	Severity Severity
	Message  string
	Count    int  // number of offending rows, if applicable
	Fixable  bool
	Fixed    int // rows repaired, only set when Run was called with fix=true
}

// Report is the full ordered output of Run.
type Report struct {
	Results []Result
	Errors  int
	Warnings int
}

// Checker runs the ordered checks against one store.
type Checker struct {
	store storage.Store
}

func New(store storage.Store) *Checker {
	return &Checker{store: store}
}

// Run executes every check in spec order. When fix is true, each
// fixable check that found problems also repairs them and records how
// many rows were fixed.
func (c *Checker) Run(ctx context.Context, fix bool) (Report, error) {
	var report Report

	add := func(r Result) {
		report.Results = append(report.Results, r)
		switch r.Severity {
		case SeverityError:
			report.Errors++
		case SeverityWarning:
			report.Warnings++
		}
	}

	// 1. Integrity check of the store.
	integrity, err := c.store.IntegrityCheck(ctx)
	if err != nil {
		return report, fmt.Errorf("integrity check: %w", err)
	}
	if integrity == "ok" {
		add(Result{Check: "integrity", Severity: SeverityInfo, Message: "ok"})
	} else {
		add(Result{Check: "integrity", Severity: SeverityError, Message: integrity})
	}

	// 2. Schema version vs. latest known migration.
	applied, err := c.store.AppliedMigrations(ctx)
	if err != nil {
		return report, fmt.Errorf("applied migrations: %w", err)
	}
	latest := c.store.LatestKnownMigration()
	current := ""
	if len(applied) > 0 {
		current = applied[len(applied)-1]
	}
	if current == latest {
		add(Result{Check: "schema_version", Severity: SeverityInfo, Message: fmt.Sprintf("up to date at %s", current)})
	} else {
		add(Result{Check: "schema_version", Severity: SeverityWarning,
			Message: fmt.Sprintf("database at %q, binary knows up to %q", current, latest)})
	}

	// 3. Foreign-key violations.
	fkViolations, err := c.store.ForeignKeyViolations(ctx)
	if err != nil {
		return report, fmt.Errorf("foreign key violations: %w", err)
	}
	if len(fkViolations) == 0 {
		add(Result{Check: "foreign_keys", Severity: SeverityInfo, Message: "no violations"})
	} else {
		add(Result{Check: "foreign_keys", Severity: SeverityError,
			Message: fmt.Sprintf("%d foreign key violations", len(fkViolations)), Count: len(fkViolations)})
	}

	// 4. Orphaned dependencies; fixable by delete.
	orphans, err := c.store.OrphanedDependencies(ctx)
	if err != nil {
		return report, fmt.Errorf("orphaned dependencies: %w", err)
	}
	orphanResult := Result{Check: "orphaned_dependencies", Fixable: true}
	if len(orphans) == 0 {
		orphanResult.Severity = SeverityInfo
		orphanResult.Message = "none found"
	} else {
		orphanResult.Severity = SeverityWarning
		orphanResult.Count = len(orphans)
		orphanResult.Message = fmt.Sprintf("%d dependency edges reference a missing task", len(orphans))
		if fix {
			n, err := c.store.DeleteOrphanedDependencies(ctx)
			if err != nil {
				return report, fmt.Errorf("delete orphaned dependencies: %w", err)
			}
			orphanResult.Fixed = n
		}
	}
	add(orphanResult)

	// 5. Invalid status values; fixable by setting to backlog.
	invalid, err := c.store.InvalidStatusTasks(ctx)
	if err != nil {
		return report, fmt.Errorf("invalid status tasks: %w", err)
	}
	invalidResult := Result{Check: "invalid_status", Fixable: true}
	if len(invalid) == 0 {
		invalidResult.Severity = SeverityInfo
		invalidResult.Message = "none found"
	} else {
		invalidResult.Severity = SeverityError
		invalidResult.Count = len(invalid)
		invalidResult.Message = fmt.Sprintf("%d tasks have an unrecognized status", len(invalid))
		if fix {
			n, err := c.store.FixInvalidStatusTasks(ctx)
			if err != nil {
				return report, fmt.Errorf("fix invalid status tasks: %w", err)
			}
			invalidResult.Fixed = n
		}
	}
	add(invalidResult)

	// 6. Missing parent references; fixable by nulling.
	missingParent, err := c.store.TasksWithMissingParent(ctx)
	if err != nil {
		return report, fmt.Errorf("missing parent tasks: %w", err)
	}
	parentResult := Result{Check: "missing_parent", Fixable: true}
	if len(missingParent) == 0 {
		parentResult.Severity = SeverityInfo
		parentResult.Message = "none found"
	} else {
		parentResult.Severity = SeverityWarning
		parentResult.Count = len(missingParent)
		parentResult.Message = fmt.Sprintf("%d tasks reference a missing parent", len(missingParent))
		if fix {
			n, err := c.store.NullMissingParents(ctx)
			if err != nil {
				return report, fmt.Errorf("null missing parents: %w", err)
			}
			parentResult.Fixed = n
		}
	}
	add(parentResult)

	return report, nil
}
