// Package health declares the health status shape shared by every checker
// kind implemented under internal/health/k8s (§4.5).
package health

import "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

// Status is the outcome of checking a single declared object.
type Status struct {
	Healthy   bool
	LastError string
}

// Healthy is the canonical healthy Status.
func Healthy() Status { return Status{Healthy: true} }

// Unhealthy builds an unhealthy Status carrying reason.
func Unhealthy(reason string) Status { return Status{Healthy: false, LastError: reason} }

// Checker evaluates one declared object's health.
type Checker interface {
	Check(obj *unstructured.Unstructured) (Status, error)
}

// CheckerFunc adapts a function to a Checker.
type CheckerFunc func(obj *unstructured.Unstructured) (Status, error)

func (f CheckerFunc) Check(obj *unstructured.Unstructured) (Status, error) { return f(obj) }
