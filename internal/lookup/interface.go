package lookup

import (
	"context"

	"github.com/netident/netident/internal/types"
)

// DetailerInterface defines the interface for IP detail lookups
type DetailerInterface interface {
	Detail(ctx context.Context, ip string) (*types.IPDetail, error)
}
