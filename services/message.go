package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"kiosk/config"
	"kiosk/utils"
)

// Push message types emitted by the backend. The monitor only acts on
// payment updates; everything else is connection housekeeping or catalog
// noise that other components may care about.
const (
	MsgConnected       = "connected"
	MsgHeartbeat       = "heartbeat"
	MsgPaymentUpdate   = "payment_update"
	MsgProductUpdate   = "product_update"
	MsgInventoryUpdate = "inventory_update"
)

// PushMessage is a validated frame from the push channel. Raw keeps the
// original payload so unknown fields survive the round trip for anyone
// downstream who wants them.
type PushMessage struct {
	Type       string          `json:"type"       validate:"required,notblank"`
	Message    string          `json:"message,omitempty"`
	KioskID    *int            `json:"kioskId,omitempty"`
	UpdateType string          `json:"updateType,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`

	Raw string `json:"-"`
}

var pushValidate = newPushValidator()

// newPushValidator builds the frame validator. "required" alone accepts
// all-whitespace strings, so type fields carry "notblank" as well.
func newPushValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidatePushMessage parses and type-checks one raw push frame. It never
// panics and never returns an error: malformed input yields (nil, false)
// with the rejection logged. Frames are untrusted until they make it
// through here.
//
// A present timestamp must parse and must not be more than MaxClockSkew
// ahead of the local clock. Exactly MaxClockSkew ahead is accepted;
// rejection starts strictly beyond it.
func ValidatePushMessage(raw string) (*PushMessage, bool) {
	if strings.TrimSpace(raw) == "" {
		utils.Debug("push", "Rejected empty frame")
		return nil, false
	}

	var msg PushMessage
	if err := sonic.UnmarshalString(raw, &msg); err != nil {
		utils.Warn("push", "Rejected unparseable frame", "error", err, "frame_len", len(raw))
		return nil, false
	}

	if err := pushValidate.Struct(&msg); err != nil {
		utils.Warn("push", "Rejected frame failing schema checks", "error", err)
		return nil, false
	}

	if msg.Timestamp != "" {
		// The datetime tag has already pinned the layout to RFC3339.
		ts, err := time.Parse(time.RFC3339, msg.Timestamp)
		if err != nil {
			utils.Warn("push", "Rejected frame with invalid timestamp", "timestamp", msg.Timestamp, "error", err)
			return nil, false
		}
		if ahead := time.Until(ts); ahead > config.MaxClockSkew {
			utils.Warn("push", "Rejected future-dated frame", "timestamp", msg.Timestamp, "skew", ahead)
			return nil, false
		}
	}

	msg.Raw = raw
	return &msg, true
}

// PaymentUpdateData is the payload carried by payment_update frames.
type PaymentUpdateData struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// PaymentUpdate extracts the payment payload from a validated frame.
// Returns false for non-payment frames or payloads missing a payment id.
func (m *PushMessage) PaymentUpdate() (PaymentUpdateData, bool) {
	if m.Type != MsgPaymentUpdate || len(m.Data) == 0 {
		return PaymentUpdateData{}, false
	}

	var data PaymentUpdateData
	if err := sonic.Unmarshal(m.Data, &data); err != nil {
		utils.Warn("push", "Rejected payment_update with malformed data", "error", err)
		return PaymentUpdateData{}, false
	}
	if data.PaymentID == "" {
		utils.Warn("push", "Rejected payment_update without payment id")
		return PaymentUpdateData{}, false
	}

	return data, true
}
