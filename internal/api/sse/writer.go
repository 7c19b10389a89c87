// Package sse renders the outbound streaming protocol: a start event, a
// json meta event, unnamed data events carrying tokens, and terminal
// end/error events.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ajeer/ajeer-backend/internal/apperr"
)

const timezone = "Asia/Riyadh"

var riyadh = func() *time.Location {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.FixedZone(timezone, 3*60*60)
	}
	return loc
}()

// SetHeaders prepares a fiber response for SSE. Must run before the body
// stream writer starts so intermediate proxies do not buffer.
func SetHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
}

// Writer emits protocol events over one client connection. Every emit
// flushes immediately; a write or flush error means the client is gone.
type Writer struct {
	w         *bufio.Writer
	requestID string
}

// NewWriter creates a Writer for one connection.
func NewWriter(w *bufio.Writer, requestID string) *Writer {
	return &Writer{w: w, requestID: requestID}
}

// Start emits the start event, sent once immediately after channel open.
func (s *Writer) Start(conversationID string) error {
	return s.event("start", map[string]interface{}{
		"conversationId": conversationID,
		"requestId":      s.requestID,
	})
}

// timeData is the response timestamp block of the json meta event.
type timeData struct {
	DateTime     int64        `json:"DateTime"`
	DateTimeZone dateTimeZone `json:"DateTimeZone"`
}

type dateTimeZone struct {
	Date         string `json:"date"`
	TimezoneType int    `json:"timezone_type"`
	Timezone     string `json:"timezone"`
}

func now() timeData {
	t := time.Now()
	return timeData{
		DateTime: t.Unix(),
		DateTimeZone: dateTimeZone{
			Date:         t.In(riyadh).Format("2006-01-02 15:04:05.000"),
			TimezoneType: 3,
			Timezone:     timezone,
		},
	}
}

// MetaThread emits the json meta event for a newly created conversation.
func (s *Writer) MetaThread(conversationID, userID string, isGuest bool) error {
	td := now()
	return s.event("json", map[string]interface{}{
		"response": map[string]interface{}{
			"status":       200,
			"DateTime":     td.DateTime,
			"DateTimeZone": td.DateTimeZone,
		},
		"data": map[string]interface{}{
			"all": []map[string]interface{}{
				{"threadId": conversationID, "userId": userID, "isGuest": isGuest},
			},
		},
	})
}

// MetaMessage emits the json meta event for an existing conversation.
func (s *Writer) MetaMessage(conversationID, userID string) error {
	td := now()
	return s.event("json", map[string]interface{}{
		"response": map[string]interface{}{
			"status":       200,
			"DateTime":     td.DateTime,
			"DateTimeZone": td.DateTimeZone,
		},
		"data": map[string]interface{}{
			"all": []map[string]interface{}{
				{"threadId": conversationID, "userId": userID},
			},
		},
	})
}

// Token emits one delta as an unnamed data event.
func (s *Writer) Token(token string) error {
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return s.w.Flush()
}

// End emits the terminal success event.
func (s *Writer) End() error {
	if _, err := fmt.Fprint(s.w, "event: end\ndata: done\n\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

// Error emits the terminal failure event.
func (s *Writer) Error(safe apperr.SafeError) error {
	return s.event("error", map[string]interface{}{
		"code":      safe.Code,
		"message":   safe.Message,
		"requestId": s.requestID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Writer) event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return s.w.Flush()
}
