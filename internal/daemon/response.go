package daemon

import (
	"encoding/json"
	"log/slog"
)

// Response is the JSON envelope every control command answers with.
type Response struct {
	Messages []ResponseMessage `json:"messages"`
	Data     interface{}       `json:"data,omitempty"`
}

type ResponseMessage struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (r *Response) AddMessage(message string, status string) {
	r.Messages = append(r.Messages, ResponseMessage{Message: message, Status: status})
}

func (r *Response) AddData(data interface{}) {
	r.Data = data
}

// HasError reports whether any message carries ERROR status.
func (r *Response) HasError() bool {
	for _, m := range r.Messages {
		if m.Status == "ERROR" {
			return true
		}
	}
	return false
}

func (r *Response) ToJSON() string {
	bytes, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return string(bytes)
}

// LogMessages replays the response messages through slog at matching
// levels; used on the client side.
func (r *Response) LogMessages() {
	for _, m := range r.Messages {
		switch m.Status {
		case "WARN":
			slog.Warn(m.Message)
		case "ERROR":
			slog.Error(m.Message)
		default:
			slog.Info(m.Message)
		}
	}
}
