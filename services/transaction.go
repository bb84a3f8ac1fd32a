package services

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"kiosk/templates"
	"kiosk/utils"
)

// OutcomeJournal appends terminal payment outcomes to a per-day CSV file.
// It is an audit record, not monitoring state: nothing is ever read back
// from it at runtime.
type OutcomeJournal struct {
	dir string
}

// NewOutcomeJournal creates a journal writing under dir.
func NewOutcomeJournal(dir string) *OutcomeJournal {
	return &OutcomeJournal{dir: dir}
}

// Record appends one outcome line for a resolved session.
func (j *OutcomeJournal) Record(session *PaymentSession, channel, reason string) error {
	now := time.Now()
	record := templates.OutcomeRecord{
		PaymentID: session.PaymentID,
		KioskID:   session.KioskID,
		Date:      now.Format("01/02/2006"),
		Time:      now.Format("15:04:05"),
		Outcome:   string(session.Status),
		Channel:   channel,
		Reason:    reason,
	}
	return j.append(record)
}

// RecordResumed journals an outcome confirmed through the resume path,
// where no session object exists.
func (j *OutcomeJournal) RecordResumed(paymentID string, kioskID int, outcome, reason string) error {
	now := time.Now()
	record := templates.OutcomeRecord{
		PaymentID: paymentID,
		KioskID:   kioskID,
		Date:      now.Format("01/02/2006"),
		Time:      now.Format("15:04:05"),
		Outcome:   outcome,
		Channel:   "poll",
		Reason:    reason,
	}
	return j.append(record)
}

func (j *OutcomeJournal) append(record templates.OutcomeRecord) error {
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	// One file per day, same convention as the transaction exports this
	// replaces.
	filename := filepath.Join(j.dir, time.Now().Format("2006-01-02")+".csv")

	fileExists := true
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		fileExists = false
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			utils.Error("journal", "Error closing journal file", "error", err)
		}
	}()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if !fileExists {
		headers := []string{"Date", "Time", "Payment ID", "Kiosk ID", "Outcome", "Channel", "Reason"}
		if err := writer.Write(headers); err != nil {
			return err
		}
	}

	line := []string{
		record.Date,
		record.Time,
		record.PaymentID,
		strconv.Itoa(record.KioskID),
		record.Outcome,
		record.Channel,
		record.Reason,
	}
	if err := writer.Write(line); err != nil {
		return err
	}

	return nil
}
