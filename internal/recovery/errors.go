// Package recovery classifies workflow failures and produces the
// user-visible recovery replies for them. A conversation turn must never end
// without some reply, so every path here terminates in a message.
package recovery

import (
	"errors"
	"fmt"
)

// Category buckets a workflow failure for recovery routing.
type Category string

const (
	// CategoryTaxVerification covers GST/tax identifier verification failures.
	CategoryTaxVerification Category = "tax_verification"
	// CategoryCatalog covers product catalog lookup failures.
	CategoryCatalog Category = "catalog"
	// CategoryCheckout covers checkout and order placement failures.
	CategoryCheckout Category = "checkout"
	// CategoryCart covers cart mutation failures.
	CategoryCart Category = "cart"
	// CategoryNetwork covers network and generic dependency failures.
	CategoryNetwork Category = "network"
	// CategoryUnknown is the fallback bucket.
	CategoryUnknown Category = "unknown"
)

// ValidationError reports malformed structured input, such as an invalid tax
// identifier token. It is recovered locally with a corrective prompt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// ClassificationFailure reports an AI classification error. It is recovered
// by the deterministic Tier-1 fallback and never surfaced to the end user.
type ClassificationFailure struct {
	Err error
}

func (e *ClassificationFailure) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationFailure) Unwrap() error { return e.Err }

// ExternalDependencyError reports a failure in an external collaborator
// (catalog, cart, document generation, tax verification).
type ExternalDependencyError struct {
	Dependency Category
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s dependency failed: %v", e.Dependency, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error { return e.Err }

// Categorize buckets an error for recovery routing.
func Categorize(err error) Category {
	var dep *ExternalDependencyError
	if errors.As(err, &dep) {
		switch dep.Dependency {
		case CategoryTaxVerification, CategoryCatalog, CategoryCheckout, CategoryCart:
			return dep.Dependency
		default:
			return CategoryNetwork
		}
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		if validation.Field == "gstin" {
			return CategoryTaxVerification
		}
		return CategoryUnknown
	}
	return CategoryUnknown
}
