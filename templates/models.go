package templates

// KioskConfig represents the kiosk client configuration
type KioskConfig struct {
	// Backend connection
	BackendURL   string `json:"backendURL"`   // Base URL of the kiosk backend (e.g., https://pos.example.com)
	PushStream   string `json:"pushStream"`   // Path of the push event stream (default /api/events)
	BackendToken string `json:"backendToken"` // Bearer token for backend calls, if required

	// Kiosk identity
	KioskID   int    `json:"kioskID"`
	KioskName string `json:"kioskName"`

	// System configuration
	Port            string `json:"port"`
	DataDir         string `json:"dataDir"`
	TransactionsDir string `json:"transactionsDir"`
}

// PaymentView carries everything the payment screen needs to render
type PaymentView struct {
	PaymentID  string
	PaymentURL string
	QRBase64   string // PNG QR code, base64-encoded for inline embedding
	Amount     float64
}

// CountdownView is the per-tick payload for the payment progress fragment
type CountdownView struct {
	PaymentID        string
	SecondsRemaining int
	IsChecking       bool
}

// OutcomeView renders one of the three terminal screens
type OutcomeView struct {
	PaymentID string
	Outcome   string // "completed", "failed", "cancelled"
	Reason    string // failure reason, if any
}

// OutcomeRecord represents one journaled terminal outcome
type OutcomeRecord struct {
	PaymentID string  `json:"paymentID"`
	KioskID   int     `json:"kioskID"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Outcome   string  `json:"outcome"`
	Amount    float64 `json:"amount,omitempty"`
	Channel   string  `json:"channel"` // "push" or "poll"
	Reason    string  `json:"reason,omitempty"`
}
