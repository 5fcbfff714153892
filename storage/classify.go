package storage

import (
	"context"
	"errors"
	"net"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"board-sync/domain"
)

// Classify maps a storage failure to the category shown to users.
func Classify(err error) domain.FailureKind {
	if err == nil {
		return domain.KindUnknown
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 401 || respErr.StatusCode == 403:
			return domain.KindPermission
		case respErr.StatusCode == 404 && respErr.ErrorCode == "TableNotFound":
			return domain.KindSchema
		case respErr.StatusCode == 400 || respErr.StatusCode == 501:
			return domain.KindSchema
		case respErr.StatusCode == 408 || respErr.StatusCode == 429 || respErr.StatusCode >= 500:
			return domain.KindNetwork
		}
		return domain.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.KindNetwork
	}
	return domain.KindUnknown
}

func persistenceError(op string, err error) error {
	return &domain.PersistenceError{Kind: Classify(err), Op: op, Err: err}
}
