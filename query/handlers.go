package query

import (
	"context"
	"time"

	"github.com/goliatone/go-connections/core"
)

type ConnectionReader interface {
	Get(ctx context.Context, userID string, providerID string) (core.Connection, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Connection, error)
}

type CapabilitiesReader interface {
	Capabilities(providerID string) (core.ProviderCapabilities, error)
}

type GetConnectionQuery struct {
	reader ConnectionReader
}

func NewGetConnectionQuery(reader ConnectionReader) *GetConnectionQuery {
	return &GetConnectionQuery{reader: reader}
}

func (q *GetConnectionQuery) Query(ctx context.Context, msg GetConnectionMessage) (core.Connection, error) {
	if q == nil || q.reader == nil {
		return core.Connection{}, queryDependencyError("query: connection reader is required")
	}
	record, err := q.reader.Get(ctx, msg.UserID, msg.ProviderID)
	if err != nil {
		return core.Connection{}, err
	}
	return redactConnection(record), nil
}

type ListExpiringQuery struct {
	reader ConnectionReader
}

func NewListExpiringQuery(reader ConnectionReader) *ListExpiringQuery {
	return &ListExpiringQuery{reader: reader}
}

func (q *ListExpiringQuery) Query(ctx context.Context, msg ListExpiringMessage) ([]core.Connection, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: connection reader is required")
	}
	records, err := q.reader.ListExpiring(ctx, msg.Before, msg.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, redactConnection(record))
	}
	return out, nil
}

type GetCapabilitiesQuery struct {
	reader CapabilitiesReader
}

func NewGetCapabilitiesQuery(reader CapabilitiesReader) *GetCapabilitiesQuery {
	return &GetCapabilitiesQuery{reader: reader}
}

func (q *GetCapabilitiesQuery) Query(_ context.Context, msg GetCapabilitiesMessage) (core.ProviderCapabilities, error) {
	if q == nil || q.reader == nil {
		return core.ProviderCapabilities{}, queryDependencyError("query: capabilities reader is required")
	}
	return q.reader.Capabilities(msg.ProviderID)
}

// redactConnection strips the sealed payload from read models. Query callers
// render status and expiry, they never see ciphertext.
func redactConnection(record core.Connection) core.Connection {
	record.EncryptedPayload = nil
	return record
}
