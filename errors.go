package vdc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vdc/internal/vulkan"
)

var (
	// ErrOutOfPoolMemory marks a failure to carve descriptor sets because the pool selected for them
	// ran out of capacity. The cache recovers from these internally, they only escape as the cause of
	// ErrRetryBudgetExhausted
	ErrOutOfPoolMemory = vulkan.ErrOutOfPoolMemory
	// ErrRetryBudgetExhausted is returned from Resolve when every pool selection strategy failed
	// to carve the uncached descriptor sets of a batch
	ErrRetryBudgetExhausted = errors.New("descriptor set allocation retries exhausted")
	// ErrInvalidBinding is returned from Resolve when a Binding is malformed, such as a negative slot
	// or resources that do not match the descriptor type
	ErrInvalidBinding = errors.New("invalid binding")
	// ErrUnsupportedBinding is returned from Resolve for bindings the cache was not configured to write
	ErrUnsupportedBinding = errors.New("unsupported binding")
)
