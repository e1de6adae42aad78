package realtime

import (
	"encoding/json"

	"github.com/Baaaki/teamchat/internal/feed"
)

// RequestType names a client frame.
type RequestType string

const (
	RequestSubscribe      RequestType = "subscribe"
	RequestUnsubscribe    RequestType = "unsubscribe"
	RequestSendMessage    RequestType = "send_message"
	RequestEditMessage    RequestType = "edit_message"
	RequestDeleteMessage  RequestType = "delete_message"
	RequestSendDirect     RequestType = "send_direct"
	RequestEditDirect     RequestType = "edit_direct"
	RequestDeleteDirect   RequestType = "delete_direct"
	RequestMarkDirectRead RequestType = "mark_direct_read"
	RequestSetStatus      RequestType = "set_status"
	RequestHeartbeat      RequestType = "heartbeat"
	RequestMarkRead       RequestType = "mark_read"
	RequestMarkAllRead    RequestType = "mark_all_read"
)

// ResponseType names a server frame.
type ResponseType string

const (
	ResponseAck            ResponseType = "ack"
	ResponseEvent          ResponseType = "event"
	ResponseWarning        ResponseType = "warning"
	ResponseSessionExpired ResponseType = "session_expired"
)

// Ack statuses.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Request is a client frame. RequestID correlates the ack.
type Request struct {
	Type      RequestType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Stream    string          `json:"stream,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Response is a server frame.
type Response struct {
	Type      ResponseType    `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Stream    feed.StreamKey  `json:"stream,omitempty"`
	Event     *feed.Event     `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorAr   string          `json:"error_ar,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Confirmed builds a successful ack carrying data.
func Confirmed(requestID string, data any) (Response, error) {
	resp := Response{Type: ResponseAck, RequestID: requestID, Status: StatusConfirmed}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{}, err
		}
		resp.Data = raw
	}
	return resp, nil
}

// Failed builds a failed ack.
func Failed(requestID, code, message, messageAr string) Response {
	return Response{
		Type:      ResponseAck,
		RequestID: requestID,
		Status:    StatusFailed,
		Code:      code,
		Error:     message,
		ErrorAr:   messageAr,
	}
}
