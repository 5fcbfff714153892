package storage

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const probePartition = "__capabilities__"

// Probe checks that the task table is reachable and whether entity group
// transactions are available. The result is kept for the lifetime of the
// Storage so writes never fall back by trial and error.
func (s *Storage) Probe(ctx context.Context) (Capabilities, error) {
	top := int32(1)
	filter := "PartitionKey eq " + odataQuote(probePartition)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			return s.caps, persistenceError("probe", err)
		}
	}

	key := entity{PartitionKey: probePartition, RowKey: uuid.NewString()}
	payload, err := json.Marshal(key)
	if err != nil {
		return s.caps, err
	}
	caps := Capabilities{Transactions: true}
	_, err = s.taskTable.SubmitTransaction(ctx, []aztables.TransactionAction{{
		ActionType: aztables.TransactionTypeInsertReplace,
		Entity:     payload,
	}}, nil)
	if err != nil {
		if Classify(err) != domain.KindSchema {
			return s.caps, persistenceError("probe", err)
		}
		log.WithError(err).Warn("table transactions unavailable, position batches will be written row by row")
		caps.Transactions = false
	} else if _, err := s.taskTable.DeleteEntity(ctx, key.PartitionKey, key.RowKey, nil); err != nil {
		log.WithError(err).WithField("row", key.RowKey).Warn("failed to remove capability probe row")
	}

	s.caps = caps
	log.WithField("transactions", caps.Transactions).Info("storage capabilities negotiated")
	return caps, nil
}
