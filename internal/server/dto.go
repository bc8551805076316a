package server

import "brosync/internal/domain"

// SyncLogResponse is the wire shape of one ledger row.
type SyncLogResponse struct {
	ID               int64   `json:"id"`
	ObjectKind       string  `json:"object_kind"`
	ObjectRef        int64   `json:"object_ref"`
	EventID          *int64  `json:"event_id,omitempty"`
	MessageType      string  `json:"message_type"`
	DeliveryType     string  `json:"delivery_type"`
	ProcessStatus    string  `json:"process_status"`
	ValidationStatus *string `json:"validation_status,omitempty"`
	DeliveryStatus   *string `json:"delivery_status,omitempty"`
	DeliveryID       *string `json:"delivery_id,omitempty"`
	DeliveryAttempts int     `json:"delivery_attempts"`
	CorrelationID    string  `json:"correlation_id"`
	RequestReference string  `json:"request_reference"`
	XMLPath          *string `json:"xml_path,omitempty"`
	BroID            *string `json:"bro_id,omitempty"`
	LastError        *string `json:"last_error,omitempty"`
	LastChanged      string  `json:"last_changed"`
	CreatedAt        string  `json:"created_at"`
}

func syncLogResponse(l domain.SyncLog) SyncLogResponse {
	return SyncLogResponse{
		ID:               l.ID,
		ObjectKind:       string(l.ObjectKind),
		ObjectRef:        l.ObjectRef,
		EventID:          l.EventID,
		MessageType:      string(l.MessageType),
		DeliveryType:     string(l.DeliveryType),
		ProcessStatus:    l.ProcessStatus,
		ValidationStatus: l.ValidationStatus,
		DeliveryStatus:   l.DeliveryStatus,
		DeliveryID:       l.DeliveryID,
		DeliveryAttempts: l.DeliveryAttempts,
		CorrelationID:    l.CorrelationID,
		RequestReference: l.RequestReference,
		XMLPath:          l.XMLPath,
		BroID:            l.BroID,
		LastError:        l.LastError,
		LastChanged:      l.LastChanged,
		CreatedAt:        l.CreatedAt,
	}
}

func mapSyncLogs(items []domain.SyncLog) []SyncLogResponse {
	res := make([]SyncLogResponse, 0, len(items))
	for _, l := range items {
		res = append(res, syncLogResponse(l))
	}
	return res
}
